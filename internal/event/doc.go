// Package event defines the tempolog event taxonomy.
//
// Every state change in a tempolog replica is an immutable, typed event.
// The event log is the sole source of truth: tables are materialized from
// it and are never mutated directly.
//
// CRITICAL PATTERNS:
//
// Closed taxonomy:
// Payloads form a sealed sum type over a fixed, versioned set of variants.
// Dispatch over payloads is exhaustiveness-checked; adding a new event type
// is a compile-time-visible change. Unknown event names are a hard error
// everywhere (decoder, validator, materializer) - silently skipping an
// unknown event would be silent data loss.
//
// Deterministic total order:
// Events are ordered by (Seq, Origin, ID). Seq is a Lamport sequence number
// stamped at commit; Origin is the committing replica's stable identity and
// breaks ties between concurrent commits. Wall-clock time is NEVER used for
// ordering - all timestamps live inside payloads as plain data.
//
// Versioned names:
// Each event type carries a stable name with an embedded version tag
// ("v1.CategoryCreated"). A version's schema is never redefined; schema
// changes introduce a new version name instead.
package event

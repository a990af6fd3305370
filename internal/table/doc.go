// Package table holds the materialized relational snapshot.
//
// Tables are projections of the event log: every row is derivable by
// folding the materializer over some event prefix, and nothing else may
// write to them. The query engine reads snapshots; the commit path swaps
// in a freshly folded snapshot under its writer lock.
//
// Deletion is soft: rows gain a deletedAt marker and stay addressable for
// audit and history. The one exception is the session-tag link table,
// whose rows carry no independent history and are removed physically,
// matching the link-removal event semantics.
//
// Per-table version counters advance on every mutation and drive query
// invalidation - a live query re-evaluates only when a table it reads
// from has moved.
package table

// Package syncd implements the sync authority: the HTTP service that
// assigns the global stream order for pushed events and serves pulls.
//
// The authority is deliberately dumb. It never materializes state and
// never interprets payloads beyond shape checks; it stores events
// exactly once by id, stamps each accepted event with a monotonically
// increasing global sequence, and replays the stream from any cursor.
// All merge semantics live in the replicas.
package syncd

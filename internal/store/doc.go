// Package store coordinates the commit pipeline for one replica.
//
// A commit settles in a fixed order: validate the batch, stamp logical
// identity, materialize against a cloned snapshot, append durably, swap
// the snapshot, notify live queries. Failure at any stage leaves the
// log, the snapshot, and every subscription exactly as they were.
//
// Remote batches enter through ApplyRemote, which merges them into the
// deterministic total order (seq, origin, id) and rebuilds the snapshot
// from the nearest checkpoint before the insertion point. Two replicas
// holding the same event set converge to byte-identical table state
// regardless of arrival order.
package store

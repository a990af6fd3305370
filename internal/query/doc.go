// Package query implements the live query layer over the materialized
// snapshot.
//
// Query descriptors are data, not closures: a sealed sum of descriptor
// structs, each naming the tables it reads. Keeping descriptors as plain
// values makes them replayable and cacheable, and lets the engine track
// dependencies without executing anything.
//
// ARCHITECTURE:
//
// Dependency-tracked invalidation:
// Each subscription is indexed by the tables its descriptor reads. After
// a commit settles, the store hands the engine the set of touched tables
// and only the affected subscriptions are re-evaluated - never the whole
// subscription population.
//
// Value-diff notification:
// A re-evaluated subscription notifies its subscriber only when the new
// result differs from the cached one by value equality. Reference churn
// from re-evaluation never reaches subscribers.
//
// Consistent reads:
// Evaluation always runs against the store's current snapshot, which is
// swapped in atomically after a whole batch materializes. A query never
// observes a table mid-materialization of one event.
//
// Determinism:
// Every result carries a total order: the declared sort key first, then
// primary id as the stable tiebreak. Name ordering uses a fixed collation
// so results are identical across replicas and runs.
package query

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/eventlog"
	"github.com/tempolog/tempolog/internal/materialize"
	"github.com/tempolog/tempolog/internal/query"
	"github.com/tempolog/tempolog/internal/schema"
	"github.com/tempolog/tempolog/internal/table"
)

const (
	// Snapshot checkpoints are kept every checkpointInterval events so a
	// retroactive remote insertion re-folds a bounded suffix instead of
	// the whole log.
	defaultCheckpointInterval = 256
	maxCheckpoints            = 16
)

// checkpoint is a frozen snapshot of the state after folding the first
// index events of the ordered log.
type checkpoint struct {
	index int
	snap  *table.Snapshot
}

// Store is the single-writer commit coordinator for one replica.
//
// Reads (Snapshot, Queries, passthrough log reads) are safe from any
// goroutine. Commit and ApplyRemote serialize on an internal mutex; the
// published snapshot is swapped atomically so readers never observe a
// half-applied batch.
type Store struct {
	log       *eventlog.Log
	validator *schema.Validator
	clock     *Clock
	origin    string
	logger    *slog.Logger

	newID              func() string
	checkpointInterval int

	mu          sync.Mutex
	events      []event.Event // full log in merge order (seq, origin, id)
	known       map[string]struct{}
	checkpoints []checkpoint

	snapshot atomic.Pointer[table.Snapshot]
	queries  *query.Engine
	onCommit []func([]event.Event)
}

// Option configures a Store at open time.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithIDSource overrides event id generation. Tests inject deterministic
// ids; production uses random uuids.
func WithIDSource(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// WithCheckpointInterval overrides the checkpoint spacing.
func WithCheckpointInterval(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.checkpointInterval = n
		}
	}
}

// Open loads the log, replays it into the in-memory snapshot, and resumes
// the logical clock from the highest seq on record. The replica identity
// is read from the log, minted on first open.
func Open(ctx context.Context, log *eventlog.Log, validator *schema.Validator, opts ...Option) (*Store, error) {
	s := &Store{
		log:                log,
		validator:          validator,
		logger:             slog.Default(),
		newID:              uuid.NewString,
		checkpointInterval: defaultCheckpointInterval,
		known:              make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	origin, err := log.Origin(ctx, uuid.NewString)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s.origin = origin

	events, err := log.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	lastSeq, err := log.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s.clock = NewClockAt(lastSeq)

	snap := table.NewSnapshot()
	s.events = events
	for i, ev := range events {
		s.known[ev.ID] = struct{}{}
		if _, err := materialize.Apply(snap, ev); err != nil {
			return nil, fmt.Errorf("open store: replay: %w", err)
		}
		s.checkpoints = s.appendCheckpoint(s.checkpoints, i+1, snap)
	}
	s.snapshot.Store(snap)
	s.queries = query.NewEngine(s.Snapshot, query.WithLogger(s.logger))

	s.logger.Info("store opened",
		"origin", origin,
		"events", len(events),
		"seq", lastSeq,
	)
	return s, nil
}

// Origin returns the replica's persistent identity.
func (s *Store) Origin() string { return s.origin }

// Seq returns the logical clock's current position.
func (s *Store) Seq() int64 { return s.clock.Current() }

// Snapshot returns the snapshot of the last settled commit. The returned
// value is immutable from the caller's perspective: commits publish a
// fresh snapshot rather than mutating a visible one.
func (s *Store) Snapshot() *table.Snapshot {
	return s.snapshot.Load()
}

// Queries returns the live query engine bound to this store.
func (s *Store) Queries() *query.Engine { return s.queries }

// OnCommit registers a hook invoked after each local commit settles,
// with the stamped events of the batch. Used by the sync engine to wake
// its push loop. Hooks run on the committing goroutine and must not
// commit recursively.
func (s *Store) OnCommit(fn func([]event.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, fn)
}

// Commit validates, stamps, materializes, and durably appends a batch of
// payloads as one atomic unit. On success the snapshot is swapped and
// affected live queries are notified synchronously; queries issued after
// Commit returns see the new state. On any failure nothing changes.
func (s *Store) Commit(ctx context.Context, payloads ...event.Payload) ([]event.Event, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]event.Event, len(payloads))
	for i, p := range payloads {
		ev := event.New(s.newID(), p)
		ev.Seq = s.clock.Current() + int64(i) + 1
		ev.Origin = s.origin
		events[i] = ev
	}

	if err := s.validator.ValidateBatch(events); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// Materialize against a private clone; the visible snapshot stays
	// untouched until the whole batch has folded and persisted.
	next := s.Snapshot().Clone()
	touched := make(map[table.Name]struct{})
	for _, ev := range events {
		names, err := materialize.Apply(next, ev)
		if err != nil {
			return nil, fmt.Errorf("commit: %w", err)
		}
		for _, n := range names {
			touched[n] = struct{}{}
		}
	}

	if err := s.log.Append(ctx, events); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// Durable now. Settle in memory: clock, ordered log, snapshot.
	s.clock.AdvanceTo(events[len(events)-1].Seq)
	for _, ev := range events {
		s.events = append(s.events, ev)
		s.known[ev.ID] = struct{}{}
	}
	// Checkpoint only at the batch boundary; next reflects the full
	// batch, so a mid-batch index would freeze state it never had.
	s.checkpoints = s.appendCheckpoint(s.checkpoints, len(s.events), next)
	s.snapshot.Store(next)

	s.queries.Invalidate(touchedNames(touched))
	for _, fn := range s.onCommit {
		fn(events)
	}

	s.logger.Debug("commit settled",
		"events", len(events),
		"seq", events[len(events)-1].Seq,
	)
	return events, nil
}

// ApplyRemote merges a pulled batch into the deterministic total order.
//
// Events from this replica, events already known, and local-only events
// are skipped. If an accepted event sorts before the current tail the
// snapshot is rebuilt from the nearest checkpoint at or before the
// insertion point, so earlier-ordered remote events retroactively win
// exactly as a full replay would decide.
//
// Returns the number of events accepted.
func (s *Store) ApplyRemote(ctx context.Context, remote []event.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make([]event.Event, 0, len(remote))
	for _, ev := range remote {
		if ev.Origin == s.origin {
			continue
		}
		if _, ok := s.known[ev.ID]; ok {
			continue
		}
		if event.LocalOnly(ev.Name) {
			continue
		}
		incoming = append(incoming, ev)
	}
	if len(incoming) == 0 {
		return 0, nil
	}

	if err := s.validator.ValidateBatch(incoming); err != nil {
		return 0, fmt.Errorf("apply remote: %w", err)
	}

	sort.Slice(incoming, func(i, j int) bool { return event.Less(incoming[i], incoming[j]) })

	// Insertion point: first position in the ordered log where a remote
	// event sorts before an existing one. Everything before it is
	// unaffected by the merge.
	insertAt := sort.Search(len(s.events), func(i int) bool {
		return event.Less(incoming[0], s.events[i])
	})

	merged := mergeOrdered(s.events, incoming)

	// Fold before persisting. A batch that passes schema validation can
	// still fail materialization (say, a remote row id colliding with a
	// local one); such events must never enter the durable log, or every
	// replay at startup would fail on them and strand the replica.
	next, cps, rebuiltFrom, err := s.rebuildFrom(insertAt, merged)
	if err != nil {
		return 0, fmt.Errorf("apply remote: %w", err)
	}

	// Durable now. A crash before the in-memory swap re-derives this
	// exact state from the log on restart.
	if _, err := s.log.InsertRemote(ctx, incoming); err != nil {
		return 0, fmt.Errorf("apply remote: %w", err)
	}

	s.events = merged
	s.checkpoints = cps
	for _, ev := range incoming {
		s.known[ev.ID] = struct{}{}
	}
	s.clock.AdvanceTo(incoming[len(incoming)-1].Seq)
	s.snapshot.Store(next)

	// Rebasing can change any table; invalidate everything the re-fold
	// touched, which for a rebuild means all tables.
	s.queries.Invalidate(table.AllNames())

	s.logger.Debug("remote batch merged",
		"accepted", len(incoming),
		"insert_at", insertAt,
		"rebuilt_from", rebuiltFrom,
		"log_size", len(merged),
	)
	return len(incoming), nil
}

// rebuildFrom produces the snapshot and checkpoint list for the merged
// log by cloning the nearest checkpoint at or before insertAt and
// folding the remainder. Checkpoints past the insertion point are
// recomputed from the merged order.
//
// Store state is untouched: the caller installs the returned values
// only once the whole merge has succeeded, so a failed fold leaves the
// events, snapshot, and checkpoint ring exactly as they were.
func (s *Store) rebuildFrom(insertAt int, merged []event.Event) (*table.Snapshot, []checkpoint, int, error) {
	base := 0
	snap := table.NewSnapshot()

	var cps []checkpoint
	for _, cp := range s.checkpoints {
		if cp.index <= insertAt {
			base = cp.index
			snap = cp.snap.Clone()
			cps = append(cps, cp)
		}
	}

	for i := base; i < len(merged); i++ {
		if _, err := materialize.Apply(snap, merged[i]); err != nil {
			return nil, nil, 0, fmt.Errorf("rebase at %d: %w", i, err)
		}
		cps = s.appendCheckpoint(cps, i+1, snap)
	}
	return snap, cps, base, nil
}

// appendCheckpoint extends cps with a clone of snap when count crosses a
// checkpoint boundary, evicting the oldest entry past the ring cap.
func (s *Store) appendCheckpoint(cps []checkpoint, count int, snap *table.Snapshot) []checkpoint {
	if count%s.checkpointInterval != 0 {
		return cps
	}
	if n := len(cps); n > 0 && cps[n-1].index >= count {
		return cps
	}
	cps = append(cps, checkpoint{index: count, snap: snap.Clone()})
	if len(cps) > maxCheckpoints {
		cps = cps[1:]
	}
	return cps
}

// Events returns a copy of the ordered in-memory log.
func (s *Store) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, len(s.events))
	copy(out, s.events)
	return out
}

// CanonicalJSON renders the current snapshot in the canonical form used
// for convergence checks and golden tests.
func (s *Store) CanonicalJSON() ([]byte, error) {
	return s.Snapshot().CanonicalJSON()
}

// VerifyReplay refolds the entire ordered log from scratch and compares
// the result with the published snapshot. A mismatch means a
// checkpoint-rebase shortcut diverged from the ground truth.
func (s *Store) VerifyReplay(ctx context.Context) error {
	events, err := s.log.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("verify replay: %w", err)
	}
	fresh, err := materialize.Replay(events)
	if err != nil {
		return fmt.Errorf("verify replay: %w", err)
	}

	want, err := fresh.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("verify replay: %w", err)
	}
	got, err := s.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("verify replay: %w", err)
	}
	if string(want) != string(got) {
		return fmt.Errorf("verify replay: snapshot diverged from full replay of %d events", len(events))
	}
	return nil
}

// Pending returns local events awaiting push, in commit order.
func (s *Store) Pending(ctx context.Context) ([]event.Event, error) {
	return s.log.Pending(ctx)
}

// MarkPushed flags events as acknowledged by the sync authority.
func (s *Store) MarkPushed(ctx context.Context, ids []string) error {
	return s.log.MarkPushed(ctx, ids)
}

// Cursor returns the last acknowledged pull position.
func (s *Store) Cursor(ctx context.Context) (int64, error) {
	return s.log.Cursor(ctx)
}

// SetCursor stores the last acknowledged pull position.
func (s *Store) SetCursor(ctx context.Context, cursor int64) error {
	return s.log.SetCursor(ctx, cursor)
}

// mergeOrdered merges two (seq, origin, id)-ordered slices.
func mergeOrdered(a, b []event.Event) []event.Event {
	out := make([]event.Event, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if event.Less(b[j], a[i]) {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func touchedNames(set map[table.Name]struct{}) []table.Name {
	out := make([]table.Name, 0, len(set))
	for _, n := range table.AllNames() {
		if _, ok := set[n]; ok {
			out = append(out, n)
		}
	}
	return out
}

package query

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"golang.org/x/text/collate"

	"github.com/tempolog/tempolog/internal/table"
)

// SnapshotFunc returns the current materialized snapshot.
// The store guarantees the returned snapshot is fully materialized and
// is replaced, not mutated, by subsequent commits.
type SnapshotFunc func() *table.Snapshot

// Engine maintains live query subscriptions over the snapshot.
//
// Thread-safety model:
//   - Subscribe / Evaluate: safe from any goroutine
//   - Invalidate: called by the store after each settled commit; safe
//     from any goroutine, serialized internally
//   - Subscription.Close: safe from any goroutine, idempotent
type Engine struct {
	mu       sync.Mutex
	snapshot SnapshotFunc
	collator *collate.Collator
	logger   *slog.Logger

	subs    map[int64]*Subscription
	byTable map[table.Name]map[int64]struct{}
	nextID  int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine reading snapshots from src.
func NewEngine(src SnapshotFunc, opts ...Option) *Engine {
	byTable := make(map[table.Name]map[int64]struct{}, len(table.AllNames()))
	for _, name := range table.AllNames() {
		byTable[name] = make(map[int64]struct{})
	}
	e := &Engine{
		snapshot: src,
		collator: newCollator(),
		logger:   slog.Default(),
		subs:     make(map[int64]*Subscription),
		byTable:  byTable,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscription is a live binding between a descriptor and its cached
// result. Ephemeral: never persisted, must be released with Close.
type Subscription struct {
	engine *Engine
	id     int64
	desc   Description

	updates chan any

	mu      sync.Mutex
	current any
	closed  bool
}

// Subscribe validates the descriptor, evaluates it against the current
// snapshot, and registers the subscription for invalidation.
//
// Returns DescriptorError for malformed descriptors - a bad query is
// rejected here, never surfaced later as an empty result.
func (e *Engine) Subscribe(d Description) (*Subscription, error) {
	if err := validate(d); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	value, err := evaluate(e.snapshot(), d, e.collator)
	if err != nil {
		return nil, err
	}

	e.nextID++
	sub := &Subscription{
		engine:  e,
		id:      e.nextID,
		desc:    d,
		updates: make(chan any, 1),
		current: value,
	}
	e.subs[sub.id] = sub
	for _, name := range d.Tables() {
		e.byTable[name][sub.id] = struct{}{}
	}
	return sub, nil
}

// Evaluate computes a descriptor once against the current snapshot
// without registering a subscription.
func (e *Engine) Evaluate(d Description) (any, error) {
	if err := validate(d); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return evaluate(e.snapshot(), d, e.collator)
}

// Invalidate re-evaluates every subscription that reads one of the
// touched tables. Subscribers whose result is value-equal to the cached
// one are not notified.
//
// Affected subscriptions are processed in id order for deterministic
// notification sequencing.
func (e *Engine) Invalidate(touched []table.Name) {
	e.mu.Lock()
	defer e.mu.Unlock()

	affected := make(map[int64]struct{})
	for _, name := range touched {
		for id := range e.byTable[name] {
			affected[id] = struct{}{}
		}
	}
	if len(affected) == 0 {
		return
	}

	ids := make([]int64, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := e.snapshot()
	for _, id := range ids {
		sub, ok := e.subs[id]
		if !ok {
			continue
		}
		value, err := evaluate(snap, sub.desc, e.collator)
		if err != nil {
			// Descriptors are validated at subscribe time; an
			// evaluation failure here means a store invariant broke.
			e.logger.Error("live query re-evaluation failed",
				"subscription", id,
				"error", err,
			)
			continue
		}
		sub.push(value)
	}
}

// SubscriberCount returns the number of live subscriptions.
// Used for testing to verify release.
func (e *Engine) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Current returns the cached result of the subscription.
// Always equal to evaluating the descriptor fresh against the snapshot
// of the last settled commit.
func (s *Subscription) Current() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Updates returns the change channel. The channel holds at most one
// pending value: intermediate results a slow subscriber never saw are
// coalesced away, the latest value always wins.
func (s *Subscription) Updates() <-chan any {
	return s.updates
}

// Close releases the subscription. Idempotent; the updates channel is
// closed so range loops over it terminate.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	e := s.engine
	e.mu.Lock()
	delete(e.subs, s.id)
	for _, name := range s.desc.Tables() {
		delete(e.byTable[name], s.id)
	}
	e.mu.Unlock()

	close(s.updates)
}

// push stores a freshly evaluated value and notifies the subscriber if
// it differs from the cached one by value equality.
func (s *Subscription) push(value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if reflect.DeepEqual(s.current, value) {
		return
	}
	s.current = value

	// Coalesce: drop a stale pending value, keep only the latest.
	select {
	case s.updates <- value:
	default:
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- value:
		default:
		}
	}
}

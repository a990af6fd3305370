package syncer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/store"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultLongPoll     = 20 * time.Second
	backoffBase         = 500 * time.Millisecond
	backoffCap          = 30 * time.Second
	pushChunk           = 200
)

// Syncer runs the push/pull loop for one replica.
type Syncer struct {
	store  *store.Store
	client *Client
	logger *slog.Logger

	pollInterval time.Duration
	longPoll     time.Duration

	state   atomic.Int32
	wake    chan struct{}
	onState func(State)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) { s.logger = logger }
}

// WithPollInterval overrides the fallback poll interval used when no
// local commit wakes the loop.
func WithPollInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLongPoll overrides how long a caught-up pull is held open
// server-side. Zero disables long polling.
func WithLongPoll(d time.Duration) Option {
	return func(s *Syncer) { s.longPoll = d }
}

// WithStateHook registers a callback invoked on every state transition.
// Runs on the engine goroutine; must not block.
func WithStateHook(fn func(State)) Option {
	return func(s *Syncer) { s.onState = fn }
}

// New builds a sync engine bound to a store and an authority client.
// The engine registers a commit hook so local commits wake the loop
// immediately instead of waiting out the poll interval.
func New(st *store.Store, client *Client, opts ...Option) *Syncer {
	s := &Syncer{
		store:        st,
		client:       client,
		logger:       slog.Default(),
		pollInterval: defaultPollInterval,
		longPoll:     defaultLongPoll,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	st.OnCommit(func([]event.Event) {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	})
	return s
}

// State returns the engine's current lifecycle state.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// Run drives the sync loop until the context is cancelled or a terminal
// protocol failure occurs. Returns nil on cancellation, the terminal
// error otherwise.
func (s *Syncer) Run(ctx context.Context) error {
	backoff := backoffBase
	for {
		s.setState(Connecting)
		hs, err := s.client.Handshake(ctx)
		if err != nil {
			if IsTerminal(err) {
				s.setState(Errored)
				s.logger.Error("sync terminal failure", "error", err)
				return err
			}
			if !s.sleep(ctx, backoff) {
				s.setState(Disconnected)
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffBase
		s.logger.Info("sync connected", "head", hs.Head, "replica", hs.Replica)

		if err := s.loop(ctx); err != nil {
			if IsTerminal(err) {
				s.setState(Errored)
				s.logger.Error("sync terminal failure", "error", err)
				return err
			}
			s.logger.Warn("sync round failed, reconnecting", "error", err)
			if !s.sleep(ctx, backoff) {
				s.setState(Disconnected)
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		s.setState(Disconnected)
		return nil
	}
}

// loop runs sync rounds until the context ends or a round fails.
func (s *Syncer) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.setState(Syncing)
		if err := s.round(ctx); err != nil {
			return err
		}
		s.setState(Idle)

		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// round performs one push/pull exchange.
func (s *Syncer) round(ctx context.Context) error {
	if err := s.pushPending(ctx); err != nil {
		return err
	}
	return s.pullStream(ctx)
}

// pushPending uploads unacknowledged local events in commit order.
func (s *Syncer) pushPending(ctx context.Context) error {
	for {
		pending, err := s.store.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}
		chunk := pending
		if len(chunk) > pushChunk {
			chunk = chunk[:pushChunk]
		}

		resp, err := s.client.Push(ctx, chunk)
		if err != nil {
			return err
		}
		acked := append(resp.Accepted, resp.Duplicate...)
		if err := s.store.MarkPushed(ctx, acked); err != nil {
			return err
		}
		s.logger.Debug("pushed",
			"accepted", len(resp.Accepted),
			"duplicate", len(resp.Duplicate),
			"head", resp.Head,
		)
		if len(pending) <= pushChunk {
			return nil
		}
	}
}

// pullStream drains the authority stream from the persisted cursor and
// merges it into the store. The cursor advances only after the batch
// has been durably applied, so a crash mid-pull re-fetches rather than
// skips.
func (s *Syncer) pullStream(ctx context.Context) error {
	for {
		cursor, err := s.store.Cursor(ctx)
		if err != nil {
			return err
		}
		events, next, more, err := s.client.Pull(ctx, cursor, s.longPoll)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		accepted, err := s.store.ApplyRemote(ctx, events)
		if err != nil {
			return err
		}
		if err := s.store.SetCursor(ctx, next); err != nil {
			return err
		}
		s.logger.Debug("pulled",
			"received", len(events),
			"accepted", accepted,
			"cursor", next,
		)
		if !more {
			return nil
		}
	}
}

func (s *Syncer) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	s.logger.Debug("sync state", "from", prev.String(), "to", next.String())
	if s.onState != nil {
		s.onState(next)
	}
}

// sleep waits for d or a wake signal, returning false on cancellation.
func (s *Syncer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.wake:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		return backoffCap
	}
	return d
}

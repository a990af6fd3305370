package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/query"
	"github.com/tempolog/tempolog/internal/store"
	"github.com/tempolog/tempolog/internal/syncd"
	"github.com/tempolog/tempolog/internal/syncwire"
	"github.com/tempolog/tempolog/internal/table"
	"github.com/tempolog/tempolog/internal/testutil"
)

const testSecret = "test-secret"

func startAuthority(t *testing.T) (*httptest.Server, *syncd.Tokens) {
	t.Helper()
	authority, err := syncd.OpenAuthority(filepath.Join(t.TempDir(), "authority.db"))
	require.NoError(t, err)
	t.Cleanup(func() { authority.Close() })

	tokens := syncd.NewTokens(testSecret)
	srv := syncd.NewServer(authority, tokens, syncd.NewLocalNotifier(), nil)
	ts := httptest.NewServer(srv.Router(syncd.ServerConfig{}))
	t.Cleanup(ts.Close)
	return ts, tokens
}

func newReplica(t *testing.T, name string) *store.Store {
	t.Helper()
	return testutil.NewReplica(t, name)
}

// startSyncer mints a token for the store's own origin and runs the
// engine until the test ends.
func startSyncer(t *testing.T, st *store.Store, ts *httptest.Server, tokens *syncd.Tokens) *Syncer {
	t.Helper()
	token, err := tokens.Mint(st.Origin(), time.Hour)
	require.NoError(t, err)

	s := New(st, NewClient(ts.URL, token),
		WithPollInterval(50*time.Millisecond),
		WithLongPoll(0),
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("syncer did not stop on cancellation")
		}
	})
	return s
}

func TestRun_TwoReplicasConverge(t *testing.T) {
	ts, tokens := startAuthority(t)
	ctx := context.Background()

	alpha := newReplica(t, "alpha")
	bravo := newReplica(t, "bravo")
	startSyncer(t, alpha, ts, tokens)
	startSyncer(t, bravo, ts, tokens)

	_, err := alpha.Commit(ctx,
		event.CategoryCreated{ID: "cat-a", Name: "Alpha work", Color: "#111111"},
		event.SessionStarted{ID: "sess-a", CategoryID: "cat-a", StartedAt: 1000},
	)
	require.NoError(t, err)
	_, err = bravo.Commit(ctx,
		event.TodoCreated{ID: "todo-b", Text: "bravo todo"},
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, errA := alpha.CanonicalJSON()
		b, errB := bravo.CanonicalJSON()
		return errA == nil && errB == nil &&
			len(alpha.Events()) == 3 && len(bravo.Events()) == 3 &&
			string(a) == string(b)
	}, 5*time.Second, 25*time.Millisecond, "replicas did not converge")

	// Everything local has been acknowledged.
	pending, err := alpha.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, alpha.VerifyReplay(ctx))
	require.NoError(t, bravo.VerifyReplay(ctx))
}

func TestRun_LocalOnlyEventsStayLocal(t *testing.T) {
	ts, tokens := startAuthority(t)
	ctx := context.Background()

	alpha := newReplica(t, "alpha")
	bravo := newReplica(t, "bravo")
	startSyncer(t, alpha, ts, tokens)
	startSyncer(t, bravo, ts, tokens)

	_, err := alpha.Commit(ctx,
		event.TodoCreated{ID: "todo-a", Text: "shared"},
		event.UIStateSet{NewTodoText: "draft", Filter: "active"},
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(bravo.Events()) == 1
	}, 5*time.Second, 25*time.Millisecond, "shared event did not sync")

	// The UI state document exists only on the committing replica.
	got, err := bravo.Queries().Evaluate(query.UIStateDoc{SessionID: alpha.Origin()})
	require.NoError(t, err)
	doc := got.(table.UIState)
	assert.Empty(t, doc.NewTodoText)
}

func TestRun_AuthRejectionIsTerminal(t *testing.T) {
	ts, _ := startAuthority(t)

	alpha := newReplica(t, "alpha")
	forged, err := syncd.NewTokens("wrong-secret").Mint(alpha.Origin(), time.Hour)
	require.NoError(t, err)

	s := New(alpha, NewClient(ts.URL, forged), WithPollInterval(50*time.Millisecond))
	err = s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsProtocol(err))
	assert.True(t, IsTerminal(err))
	assert.Equal(t, Errored, s.State())
}

func TestRun_TransportFailureKeepsRetryingUntilCancelled(t *testing.T) {
	alpha := newReplica(t, "alpha")

	// Nothing is listening at this address.
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	s := New(alpha, NewClient(ts.URL, "any"), WithPollInterval(50*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.NoError(t, err)
	assert.Equal(t, Disconnected, s.State())

	// Local commits still work while offline.
	_, err = alpha.Commit(context.Background(), event.TodoCreated{ID: "todo-1", Text: "offline"})
	assert.NoError(t, err)
}

func TestRun_ProtocolMismatchIsTerminal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/handshake", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(syncwire.HandshakeResponse{ProtocolVersion: 99})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	alpha := newReplica(t, "alpha")
	s := New(alpha, NewClient(ts.URL, "any"))
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, Errored, s.State())
}

func TestRun_StateHookObservesLifecycle(t *testing.T) {
	ts, tokens := startAuthority(t)
	alpha := newReplica(t, "alpha")

	token, err := tokens.Mint(alpha.Origin(), time.Hour)
	require.NoError(t, err)

	states := make(chan State, 16)
	s := New(alpha, NewClient(ts.URL, token),
		WithPollInterval(50*time.Millisecond),
		WithLongPoll(0),
		WithStateHook(func(st State) {
			select {
			case states <- st:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	expect := func(want State) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case got := <-states:
				if got == want {
					return
				}
			case <-deadline:
				t.Fatalf("never observed state %s", want)
			}
		}
	}
	expect(Connecting)
	expect(Syncing)
	expect(Idle)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, Disconnected, s.State())
}

func TestClient_PushAcceptsStampedBatch(t *testing.T) {
	ts, tokens := startAuthority(t)
	ctx := context.Background()

	token, err := tokens.Mint("ghost", time.Hour)
	require.NoError(t, err)
	client := NewClient(ts.URL, token)

	resp, err := client.Push(ctx, []event.Event{
		testutil.Stamped("g-1", 1, "ghost", event.TodoCreated{ID: "todo-g", Text: "stamped"}),
		testutil.Stamped("g-2", 2, "ghost", event.TodoCompleted{ID: "todo-g"}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"g-1", "g-2"}, resp.Accepted)
	assert.Equal(t, int64(2), resp.Head)
}

func TestClient_PullRoundTripsEvents(t *testing.T) {
	ts, tokens := startAuthority(t)
	ctx := context.Background()

	alpha := newReplica(t, "alpha")
	token, err := tokens.Mint(alpha.Origin(), time.Hour)
	require.NoError(t, err)
	client := NewClient(ts.URL, token)

	committed, err := alpha.Commit(ctx,
		event.TagCreated{ID: "tag-1", Name: "focus", CreatedAt: 100},
	)
	require.NoError(t, err)

	_, err = client.Push(ctx, committed)
	require.NoError(t, err)

	events, cursor, more, err := client.Pull(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, committed[0], events[0])
	assert.Equal(t, int64(1), cursor)
	assert.False(t, more)
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/eventlog"
	"github.com/tempolog/tempolog/internal/query"
	"github.com/tempolog/tempolog/internal/schema"
	"github.com/tempolog/tempolog/internal/table"
)

// sequentialIDs returns a deterministic id source with a per-store prefix
// so two test replicas never collide.
func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}

func openTestStore(t *testing.T, name string) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".db")
	return reopenTestStore(t, path, name), path
}

func reopenTestStore(t *testing.T, path, name string) *Store {
	t.Helper()
	log, err := eventlog.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	s, err := Open(context.Background(), log, validator,
		WithIDSource(sequentialIDs(name)),
		WithCheckpointInterval(4),
	)
	require.NoError(t, err)
	return s
}

func TestCommit_StampsIdentityAndOrder(t *testing.T) {
	s, _ := openTestStore(t, "alpha")

	events, err := s.Commit(context.Background(),
		event.CategoryCreated{ID: "cat-1", Name: "Work", Color: "#ff0000"},
		event.SessionStarted{ID: "sess-1", CategoryID: "cat-1", StartedAt: 1000},
	)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(2), events[1].Seq)
	assert.Equal(t, s.Origin(), events[0].Origin)
	assert.Equal(t, "alpha-0001", events[0].ID)
	assert.Equal(t, int64(2), s.Seq())
}

func TestCommit_RunningSessionVisibleImmediately(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx,
		event.CategoryCreated{ID: "cat-1", Name: "Work", Color: "#ff0000"},
		event.SessionStarted{ID: "sess-1", CategoryID: "cat-1", StartedAt: 1000},
	)
	require.NoError(t, err)

	got, err := s.Queries().Evaluate(query.Sessions{RunningOnly: true})
	require.NoError(t, err)
	rows := got.([]query.SessionRow)
	require.Len(t, rows, 1)
	assert.Equal(t, "sess-1", rows[0].ID)
	require.NotNil(t, rows[0].CategoryName)
	assert.Equal(t, "Work", *rows[0].CategoryName)

	_, err = s.Commit(ctx, event.SessionEnded{SessionID: "sess-1", EndedAt: 4000})
	require.NoError(t, err)

	got, err = s.Queries().Evaluate(query.Sessions{RunningOnly: true})
	require.NoError(t, err)
	assert.Empty(t, got.([]query.SessionRow))
}

func TestCommit_SoftDeleteHidesFromListsKeepsLookup(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx, event.CategoryCreated{ID: "cat-1", Name: "Work", Color: "#ff0000"})
	require.NoError(t, err)
	_, err = s.Commit(ctx, event.CategoryDeleted{ID: "cat-1", DeletedAt: 9000})
	require.NoError(t, err)

	got, err := s.Queries().Evaluate(query.VisibleCategories{})
	require.NoError(t, err)
	assert.Empty(t, got.([]table.Category))

	got, err = s.Queries().Evaluate(query.CategoryByID{ID: "cat-1"})
	require.NoError(t, err)
	row := got.(*table.Category)
	require.NotNil(t, row)
	require.NotNil(t, row.DeletedAt)
	assert.Equal(t, int64(9000), *row.DeletedAt)
}

func TestCommit_InvalidBatchChangesNothing(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	before, err := s.CanonicalJSON()
	require.NoError(t, err)
	seqBefore := s.Seq()

	// Second payload violates the schema (empty id), so the whole batch
	// must be rejected including the valid first payload.
	_, err = s.Commit(ctx,
		event.TodoCreated{ID: "todo-1", Text: "valid"},
		event.TodoCreated{ID: "", Text: "invalid"},
	)
	require.Error(t, err)
	assert.True(t, event.IsValidation(err))

	after, err := s.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Equal(t, seqBefore, s.Seq())
	assert.Empty(t, s.Events())

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCommit_NotifiesLiveQueries(t *testing.T) {
	s, _ := openTestStore(t, "alpha")

	sub, err := s.Queries().Subscribe(query.TodoCounts{})
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, query.Counts{}, sub.Current())

	_, err = s.Commit(context.Background(), event.TodoCreated{ID: "todo-1", Text: "write tests"})
	require.NoError(t, err)

	// Notification is synchronous with Commit; the update is pending.
	select {
	case v := <-sub.Updates():
		assert.Equal(t, query.Counts{Active: 1}, v)
	default:
		t.Fatal("expected a pending update after commit")
	}
}

func TestCommit_OnCommitHookReceivesStampedEvents(t *testing.T) {
	s, _ := openTestStore(t, "alpha")

	var got []event.Event
	s.OnCommit(func(events []event.Event) { got = append(got, events...) })

	_, err := s.Commit(context.Background(), event.TodoCreated{ID: "todo-1", Text: "x"})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, s.Origin(), got[0].Origin)
}

func TestReopen_ResumesClockAndState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.db")
	s := reopenTestStore(t, path, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx,
		event.TodoCreated{ID: "todo-1", Text: "persisted"},
		event.TodoCompleted{ID: "todo-1"},
	)
	require.NoError(t, err)
	want, err := s.CanonicalJSON()
	require.NoError(t, err)

	reopened := reopenTestStore(t, path, "alpha2")
	got, err := reopened.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
	assert.Equal(t, int64(2), reopened.Seq())
	assert.Equal(t, s.Origin(), reopened.Origin())
}

func TestApplyRemote_SkipsOwnKnownAndLocalOnly(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	local, err := s.Commit(ctx, event.TodoCreated{ID: "todo-1", Text: "mine"})
	require.NoError(t, err)

	remote := []event.Event{
		// Own event echoed back by the authority.
		local[0],
		// Already-known id under a different origin.
		{ID: local[0].ID, Seq: 9, Origin: "other", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "todo-x", Text: "dup"}},
		// Local-only events never cross replicas.
		{ID: "ui-1", Seq: 10, Origin: "other", Name: event.NameUIStateSet,
			Payload: event.UIStateSet{Filter: "all"}},
	}
	n, err := s.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, s.Events(), 1)
}

func TestApplyRemote_AppendsAndAdvancesClock(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx, event.TodoCreated{ID: "todo-1", Text: "mine"})
	require.NoError(t, err)

	n, err := s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-1", Seq: 7, Origin: "bravo", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "todo-2", Text: "theirs"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(7), s.Seq())

	got, err := s.Queries().Evaluate(query.TodoCounts{})
	require.NoError(t, err)
	assert.Equal(t, query.Counts{Active: 2}, got)

	// The next local commit sorts after everything observed.
	events, err := s.Commit(ctx, event.TodoCreated{ID: "todo-3", Text: "later"})
	require.NoError(t, err)
	assert.Equal(t, int64(8), events[0].Seq)
}

func TestApplyRemote_RejectsInvalidBatchAtomically(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	before, err := s.CanonicalJSON()
	require.NoError(t, err)

	_, err = s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-1", Seq: 1, Origin: "bravo", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "todo-ok", Text: "fine"}},
		{ID: "remote-2", Seq: 2, Origin: "bravo", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "", Text: "broken"}},
	})
	require.Error(t, err)
	assert.True(t, event.IsValidation(err))

	after, err := s.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Empty(t, s.Events())
}

func TestApplyRemote_FailedRebaseLeavesReplicaUsable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alpha.db")
	s := reopenTestStore(t, path, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx, event.CategoryCreated{ID: "cat-1", Name: "Work", Color: "#ff0000"})
	require.NoError(t, err)
	before, err := s.CanonicalJSON()
	require.NoError(t, err)

	// Schema-valid, but the row id collides with the local category, so
	// the batch fails materialization rather than validation.
	_, err = s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-1", Seq: 1, Origin: "bravo", Name: event.NameCategoryCreated,
			Payload: event.CategoryCreated{ID: "cat-1", Name: "Clash", Color: "#00ff00"}},
	})
	require.Error(t, err)
	assert.True(t, table.IsIntegrity(err))

	// Nothing moved: snapshot, ordered log, durable log.
	after, err := s.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Len(t, s.Events(), 1)
	require.NoError(t, s.VerifyReplay(ctx))

	// The poisoned batch never reached the durable log; the replica
	// reopens cleanly and keeps committing offline.
	reopened := reopenTestStore(t, path, "alpha2")
	got, err := reopened.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(got))
	_, err = reopened.Commit(ctx, event.TodoCreated{ID: "todo-1", Text: "still alive"})
	require.NoError(t, err)
}

func TestApplyRemote_CheckpointsSurviveFailedRebase(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	// Enough commits to cross several checkpoint boundaries
	// (interval 4 in tests).
	for i := 1; i <= 10; i++ {
		_, err := s.Commit(ctx, event.TodoCreated{ID: fmt.Sprintf("todo-%02d", i), Text: "local"})
		require.NoError(t, err)
	}

	// A low-seq duplicate forces a rebase through the checkpoint ring
	// and fails mid-fold when the local create of the same row replays.
	_, err := s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-bad", Seq: 2, Origin: "bravo", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "todo-03", Text: "clash"}},
	})
	require.Error(t, err)
	assert.True(t, table.IsIntegrity(err))
	assert.Len(t, s.Events(), 10)

	// The ring still matches the log it indexes: a later retroactive
	// merge rebases from a checkpoint and must equal full replay.
	n, err := s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-ok", Seq: 3, Origin: "bravo", Name: event.NameTodoCompleted,
			Payload: event.TodoCompleted{ID: "todo-01"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, s.VerifyReplay(ctx))

	got, err := s.Queries().Evaluate(query.TodoCounts{})
	require.NoError(t, err)
	assert.Equal(t, query.Counts{Active: 9, Completed: 1}, got)
}

func TestApplyRemote_RetroactiveInsertionRebases(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	// Ten local commits so the insertion point lands behind several
	// checkpoint boundaries (interval 4 in tests).
	for i := 1; i <= 10; i++ {
		_, err := s.Commit(ctx, event.TodoCreated{ID: fmt.Sprintf("todo-%02d", i), Text: "local"})
		require.NoError(t, err)
	}

	// Remote events with low seqs sort before most of the local log.
	n, err := s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-1", Seq: 2, Origin: "bravo", Name: event.NameTodoCreated,
			Payload: event.TodoCreated{ID: "todo-r1", Text: "early remote"}},
		{ID: "remote-2", Seq: 3, Origin: "bravo", Name: event.NameTodoCompleted,
			Payload: event.TodoCompleted{ID: "todo-r1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Checkpoint-rebase must land exactly where a full replay lands.
	require.NoError(t, s.VerifyReplay(ctx))

	got, err := s.Queries().Evaluate(query.TodoCounts{})
	require.NoError(t, err)
	assert.Equal(t, query.Counts{Active: 10, Completed: 1}, got)
}

func TestApplyRemote_EarlierEventLosesToLaterOne(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx, event.TodoCreated{ID: "todo-1", Text: "start"})
	require.NoError(t, err)
	_, err = s.Commit(ctx, event.TodoUncompleted{ID: "todo-1"})
	require.NoError(t, err)

	// A remote completion with a seq between the two local events is
	// inserted retroactively; the later local uncomplete still wins.
	_, err = s.ApplyRemote(ctx, []event.Event{
		{ID: "remote-1", Seq: 1, Origin: "zulu", Name: event.NameTodoCompleted,
			Payload: event.TodoCompleted{ID: "todo-1"}},
	})
	require.NoError(t, err)

	got, err := s.Queries().Evaluate(query.TodoCounts{})
	require.NoError(t, err)
	assert.Equal(t, query.Counts{Active: 1}, got)
	require.NoError(t, s.VerifyReplay(ctx))
}

func TestConvergence_CrossApplyInEitherOrder(t *testing.T) {
	ctx := context.Background()
	alpha, _ := openTestStore(t, "alpha")
	bravo, _ := openTestStore(t, "bravo")

	_, err := alpha.Commit(ctx,
		event.CategoryCreated{ID: "cat-a", Name: "Alpha work", Color: "#111111"},
		event.SessionStarted{ID: "sess-a", CategoryID: "cat-a", StartedAt: 1000},
	)
	require.NoError(t, err)
	_, err = bravo.Commit(ctx,
		event.TagCreated{ID: "tag-b", Name: "bravo tag", CreatedAt: 500},
		event.TodoCreated{ID: "todo-b", Text: "bravo todo"},
	)
	require.NoError(t, err)

	fromAlpha, err := alpha.Pending(ctx)
	require.NoError(t, err)
	fromBravo, err := bravo.Pending(ctx)
	require.NoError(t, err)

	// Opposite application orders on the two replicas.
	_, err = alpha.ApplyRemote(ctx, fromBravo)
	require.NoError(t, err)
	_, err = bravo.ApplyRemote(ctx, fromAlpha)
	require.NoError(t, err)

	alphaJSON, err := alpha.CanonicalJSON()
	require.NoError(t, err)
	bravoJSON, err := bravo.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(alphaJSON), string(bravoJSON))

	require.NoError(t, alpha.VerifyReplay(ctx))
	require.NoError(t, bravo.VerifyReplay(ctx))
}

func TestLocalOnlyEventsStayOutOfPending(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	_, err := s.Commit(ctx,
		event.TodoCreated{ID: "todo-1", Text: "shared"},
		event.UIStateSet{NewTodoText: "draft", Filter: "active"},
	)
	require.NoError(t, err)

	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.NameTodoCreated, pending[0].Name)

	// The UI state document itself did materialize locally.
	got, err := s.Queries().Evaluate(query.UIStateDoc{SessionID: s.Origin()})
	require.NoError(t, err)
	doc := got.(table.UIState)
	assert.Equal(t, "draft", doc.NewTodoText)
	assert.Equal(t, "active", doc.Filter)
}

func TestMarkPushedAndCursorRoundTrip(t *testing.T) {
	s, _ := openTestStore(t, "alpha")
	ctx := context.Background()

	events, err := s.Commit(ctx, event.TodoCreated{ID: "todo-1", Text: "x"})
	require.NoError(t, err)

	require.NoError(t, s.MarkPushed(ctx, []string{events[0].ID}))
	pending, err := s.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	cursor, err := s.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)
	require.NoError(t, s.SetCursor(ctx, 17))
	cursor, err = s.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(17), cursor)
}

// Package testutil provides deterministic fixtures for tests that span
// packages: replicas with predictable event ids and pre-stamped events.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/eventlog"
	"github.com/tempolog/tempolog/internal/schema"
	"github.com/tempolog/tempolog/internal/store"
)

// SequentialIDs returns a thread-safe id source yielding
// prefix-0001, prefix-0002, ... so event identity is stable across runs.
func SequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%04d", prefix, n)
	}
}

// NewReplica opens a fresh store on a temporary database with
// deterministic event ids. The log is closed when the test ends.
func NewReplica(t *testing.T, name string, opts ...store.Option) *store.Store {
	t.Helper()
	log, err := eventlog.Open(filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	validator, err := schema.NewValidator()
	require.NoError(t, err)

	opts = append([]store.Option{store.WithIDSource(SequentialIDs(name))}, opts...)
	st, err := store.Open(context.Background(), log, validator, opts...)
	require.NoError(t, err)
	return st
}

// Stamped builds a fully stamped event, the shape a remote replica
// would deliver.
func Stamped(id string, seq int64, origin string, p event.Payload) event.Event {
	ev := event.New(id, p)
	ev.Seq = seq
	ev.Origin = origin
	return ev
}

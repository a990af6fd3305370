package table

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot is the full materialized state of one replica.
//
// A snapshot is owned by exactly one coordinator and passed by reference;
// there is no ambient global state. The commit path folds events into a
// private clone and swaps it in atomically, so readers always observe a
// fully materialized snapshot, never one mid-event.
type Snapshot struct {
	Categories  *Table[Category]
	Sessions    *Table[Session]
	Tags        *Table[Tag]
	SessionTags *Table[SessionTag]
	Todos       *Table[Todo]
	UIStates    *Table[UIState]
}

// NewSnapshot creates the empty snapshot all replay starts from.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Categories:  NewTable[Category](Categories),
		Sessions:    NewTable[Session](Sessions),
		Tags:        NewTable[Tag](Tags),
		SessionTags: NewTable[SessionTag](SessionTags),
		Todos:       NewTable[Todo](Todos),
		UIStates:    NewTable[UIState](UIStates),
	}
}

// Clone deep-copies the snapshot. Used for checkpoints and for the
// copy-on-write commit path.
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Categories:  s.Categories.Clone(),
		Sessions:    s.Sessions.Clone(),
		Tags:        s.Tags.Clone(),
		SessionTags: s.SessionTags.Clone(),
		Todos:       s.Todos.Clone(),
		UIStates:    s.UIStates.Clone(),
	}
}

// Versions returns the per-table mutation counters.
func (s *Snapshot) Versions() map[Name]int64 {
	return map[Name]int64{
		Categories:  s.Categories.Version(),
		Sessions:    s.Sessions.Version(),
		Tags:        s.Tags.Version(),
		SessionTags: s.SessionTags.Version(),
		Todos:       s.Todos.Version(),
		UIStates:    s.UIStates.Version(),
	}
}

// canonicalDump fixes the serialized table order for CanonicalJSON.
type canonicalDump struct {
	Categories  []Category   `json:"categories"`
	Sessions    []Session    `json:"sessions"`
	SessionTags []SessionTag `json:"sessionTags"`
	Tags        []Tag        `json:"tags"`
	Todos       []Todo       `json:"todos"`
	UIState     []UIState    `json:"uiState"`
}

// CanonicalJSON serializes the snapshot deterministically: fixed table
// order, rows sorted by primary id, no HTML escaping. Two snapshots are
// equal exactly when their canonical dumps are byte-identical, which is
// what the replay-determinism and convergence tests compare.
func (s *Snapshot) CanonicalJSON() ([]byte, error) {
	dump := canonicalDump{
		Categories:  s.Categories.All(),
		Sessions:    s.Sessions.All(),
		SessionTags: s.SessionTags.All(),
		Tags:        s.Tags.All(),
		Todos:       s.Todos.All(),
		UIState:     s.UIStates.All(),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return nil, fmt.Errorf("canonical snapshot dump: %w", err)
	}
	return buf.Bytes(), nil
}

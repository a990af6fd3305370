package table

import (
	"sort"
)

// Row is the constraint shared by all materialized row types.
type Row interface {
	Key() string
}

// Table is a single materialized table: rows keyed by primary id plus a
// version counter.
//
// All primitives are pure and synchronous over in-memory state. The only
// legal writer is the materializer acting on a newly appended event; the
// query engine reads and never mutates.
type Table[R Row] struct {
	name    Name
	rows    map[string]R
	version int64
}

// NewTable creates an empty table.
func NewTable[R Row](name Name) *Table[R] {
	return &Table[R]{name: name, rows: make(map[string]R)}
}

// Name returns the table's identity for dependency tracking.
func (t *Table[R]) Name() Name { return t.name }

// Version returns the mutation counter. Any insert, update, or delete
// advances it by at least one.
func (t *Table[R]) Version() int64 { return t.version }

// Len returns the number of rows, soft-deleted rows included.
func (t *Table[R]) Len() int { return len(t.rows) }

// Insert adds a row. Duplicate primary ids violate the table invariant
// and return IntegrityError - correct event generation never produces
// them, so the caller must treat this as fatal, not recoverable.
func (t *Table[R]) Insert(r R) error {
	id := r.Key()
	if _, exists := t.rows[id]; exists {
		return &IntegrityError{Table: t.name, ID: id, Message: "duplicate primary id"}
	}
	t.rows[id] = r
	t.version++
	return nil
}

// Get returns the row with the given id, soft-deleted rows included.
// Direct lookups see deleted rows for audit and history purposes;
// visibility filtering belongs to queries.
func (t *Table[R]) Get(id string) (R, bool) {
	r, ok := t.rows[id]
	return r, ok
}

// Update replaces the row with the given id through fn.
// Returns false without mutating anything when the id does not exist:
// update-type events targeting a missing row are no-ops by policy, rows
// are never fabricated.
func (t *Table[R]) Update(id string, fn func(R) R) bool {
	r, ok := t.rows[id]
	if !ok {
		return false
	}
	t.rows[id] = fn(r)
	t.version++
	return true
}

// UpdateWhere replaces every row matching pred through fn and returns the
// number of rows touched.
func (t *Table[R]) UpdateWhere(pred func(R) bool, fn func(R) R) int {
	n := 0
	for id, r := range t.rows {
		if pred(r) {
			t.rows[id] = fn(r)
			n++
		}
	}
	if n > 0 {
		t.version++
	}
	return n
}

// DeleteWhere physically removes every row matching pred and returns the
// number of rows removed. Reserved for link rows; entity tables delete
// softly through Update with a deletedAt marker.
func (t *Table[R]) DeleteWhere(pred func(R) bool) int {
	n := 0
	for id, r := range t.rows {
		if pred(r) {
			delete(t.rows, id)
			n++
		}
	}
	if n > 0 {
		t.version++
	}
	return n
}

// FirstWhere returns the first row matching pred in id order.
// Id order keeps the choice deterministic across replays.
func (t *Table[R]) FirstWhere(pred func(R) bool) (R, bool) {
	var zero R
	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if r := t.rows[id]; pred(r) {
			return r, true
		}
	}
	return zero, false
}

// CountWhere returns the number of rows matching pred.
func (t *Table[R]) CountWhere(pred func(R) bool) int {
	n := 0
	for _, r := range t.rows {
		if pred(r) {
			n++
		}
	}
	return n
}

// All returns every row sorted by primary id, soft-deleted rows included.
func (t *Table[R]) All() []R {
	out := make([]R, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Where returns every row matching pred sorted by primary id.
func (t *Table[R]) Where(pred func(R) bool) []R {
	out := make([]R, 0)
	for _, r := range t.rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Clone returns an independent copy sharing no mutable state.
// Row values are copied wholesale; handlers replace rows rather than
// mutating through pointer fields, so the copies never alias writes.
func (t *Table[R]) Clone() *Table[R] {
	rows := make(map[string]R, len(t.rows))
	for id, r := range t.rows {
		rows[id] = r
	}
	return &Table[R]{name: t.name, rows: rows, version: t.version}
}

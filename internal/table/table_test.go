package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestInsert_DuplicateIDIsIntegrityError(t *testing.T) {
	tbl := NewTable[Todo](Todos)

	require.NoError(t, tbl.Insert(Todo{ID: "t1", Text: "one"}))
	err := tbl.Insert(Todo{ID: "t1", Text: "two"})
	require.Error(t, err)
	assert.True(t, IsIntegrity(err))

	// Original row untouched.
	row, ok := tbl.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "one", row.Text)
}

func TestUpdate_MissingRowIsNoOp(t *testing.T) {
	tbl := NewTable[Todo](Todos)
	v := tbl.Version()

	ok := tbl.Update("ghost", func(r Todo) Todo {
		r.Completed = true
		return r
	})
	assert.False(t, ok)
	assert.Equal(t, v, tbl.Version(), "no-op must not advance version")
}

func TestUpdateWhere_CountsAndBumpsVersionOnce(t *testing.T) {
	tbl := NewTable[Todo](Todos)
	require.NoError(t, tbl.Insert(Todo{ID: "t1", Completed: true}))
	require.NoError(t, tbl.Insert(Todo{ID: "t2", Completed: true}))
	require.NoError(t, tbl.Insert(Todo{ID: "t3"}))
	v := tbl.Version()

	n := tbl.UpdateWhere(
		func(r Todo) bool { return r.Completed },
		func(r Todo) Todo { r.DeletedAt = ptr[int64](1700000000000); return r },
	)
	assert.Equal(t, 2, n)
	assert.Equal(t, v+1, tbl.Version())

	row, _ := tbl.Get("t3")
	assert.Nil(t, row.DeletedAt)
}

func TestDeleteWhere_RemovesLinkRows(t *testing.T) {
	tbl := NewTable[SessionTag](SessionTags)
	require.NoError(t, tbl.Insert(SessionTag{ID: "l1", SessionID: "s1", TagID: "g1"}))
	require.NoError(t, tbl.Insert(SessionTag{ID: "l2", SessionID: "s1", TagID: "g2"}))

	n := tbl.DeleteWhere(func(r SessionTag) bool { return r.TagID == "g1" })
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, tbl.Len())
	_, ok := tbl.Get("l1")
	assert.False(t, ok)
}

func TestFirstWhere_DeterministicByID(t *testing.T) {
	tbl := NewTable[Category](Categories)
	require.NoError(t, tbl.Insert(Category{ID: "c-b", Name: "B", Color: "#2"}))
	require.NoError(t, tbl.Insert(Category{ID: "c-a", Name: "A", Color: "#1"}))

	row, ok := tbl.FirstWhere(func(Category) bool { return true })
	require.True(t, ok)
	assert.Equal(t, "c-a", row.ID)
}

func TestAll_SortedByID(t *testing.T) {
	tbl := NewTable[Tag](Tags)
	require.NoError(t, tbl.Insert(Tag{ID: "g2", Name: "b"}))
	require.NoError(t, tbl.Insert(Tag{ID: "g1", Name: "a"}))

	rows := tbl.All()
	require.Len(t, rows, 2)
	assert.Equal(t, "g1", rows[0].ID)
	assert.Equal(t, "g2", rows[1].ID)
}

func TestClone_IsIsolated(t *testing.T) {
	tbl := NewTable[Todo](Todos)
	require.NoError(t, tbl.Insert(Todo{ID: "t1", Text: "original"}))

	clone := tbl.Clone()
	clone.Update("t1", func(r Todo) Todo { r.Text = "changed"; return r })
	require.NoError(t, clone.Insert(Todo{ID: "t2"}))

	row, _ := tbl.Get("t1")
	assert.Equal(t, "original", row.Text)
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestSnapshot_CanonicalJSONIsStable(t *testing.T) {
	build := func(order []Todo) *Snapshot {
		s := NewSnapshot()
		for _, r := range order {
			require.NoError(t, s.Todos.Insert(r))
		}
		return s
	}

	a := build([]Todo{{ID: "t1", Text: "x"}, {ID: "t2", Text: "y"}})
	b := build([]Todo{{ID: "t2", Text: "y"}, {ID: "t1", Text: "x"}})

	aj, err := a.CanonicalJSON()
	require.NoError(t, err)
	bj, err := b.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, aj, bj, "insertion order must not leak into the dump")
}

func TestSnapshot_CloneSharesNothing(t *testing.T) {
	s := NewSnapshot()
	require.NoError(t, s.Categories.Insert(Category{ID: "c1", Name: "Work", Color: "#fff"}))

	c := s.Clone()
	c.Categories.Update("c1", func(r Category) Category { r.Name = "Play"; return r })

	row, _ := s.Categories.Get("c1")
	assert.Equal(t, "Work", row.Name)
}

package query

import "github.com/tempolog/tempolog/internal/table"

// Description represents an abstract live query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in the evaluator.
//
// Tables() declares the dependency set used for invalidation; it must
// cover every table the evaluator reads for the descriptor, or a stale
// result could survive a relevant commit.
type Description interface {
	// Tables returns the tables this query reads.
	Tables() []table.Name
	queryNode() // Marker method - seals interface to this package
}

// Todo filter literals for VisibleTodos.
const (
	FilterAll       = "all"
	FilterActive    = "active"
	FilterCompleted = "completed"
)

// VisibleCategories returns all non-deleted categories ordered by name.
type VisibleCategories struct{}

// CategoryByID looks up one category by primary id.
//
// Deliberately includes soft-deleted rows: direct lookups serve audit and
// history purposes, visibility filtering belongs to list queries. Result
// is nil when the id has never existed.
type CategoryByID struct {
	ID string
}

// CategoryChildren returns the visible direct children of a category,
// ordered by name.
type CategoryChildren struct {
	ParentID string
}

// CategoryPath returns the ancestry of a category from root to the
// category itself. The walk is cycle-safe: a corrupt parent chain
// terminates the path instead of looping forever.
type CategoryPath struct {
	ID string
}

// Sessions returns timer sessions joined with category name and color,
// most recent first. RunningOnly restricts to sessions with no end time.
// A dangling category reference yields null category fields; the row is
// never excluded.
type Sessions struct {
	RunningOnly bool
}

// SessionsWithTags is Sessions plus each session's visible tags,
// aggregated in tag-name order.
type SessionsWithTags struct{}

// TagsForSession returns the visible tags linked to one session,
// ordered by name.
type TagsForSession struct {
	SessionID string
}

// VisibleTags returns all non-deleted tags ordered by name.
type VisibleTags struct{}

// VisibleTodos returns non-deleted todos, optionally restricted by the
// completion filter, ordered by id.
type VisibleTodos struct {
	Filter string // FilterAll | FilterActive | FilterCompleted
}

// TodoCounts aggregates visible todos by completion state.
// Recomputed in full from the current snapshot on any todos change.
type TodoCounts struct{}

// DurationByCategory sums the duration of ended, visible sessions per
// category. Recomputed in full from the current snapshot on any change
// to sessions or categories.
type DurationByCategory struct{}

// UIStateDoc returns the per-client UI state document for a session
// identity, falling back to defaults when the client has not written one.
type UIStateDoc struct {
	SessionID string
}

func (VisibleCategories) queryNode()  {}
func (CategoryByID) queryNode()       {}
func (CategoryChildren) queryNode()   {}
func (CategoryPath) queryNode()       {}
func (Sessions) queryNode()           {}
func (SessionsWithTags) queryNode()   {}
func (TagsForSession) queryNode()     {}
func (VisibleTags) queryNode()        {}
func (VisibleTodos) queryNode()       {}
func (TodoCounts) queryNode()         {}
func (DurationByCategory) queryNode() {}
func (UIStateDoc) queryNode()         {}

func (VisibleCategories) Tables() []table.Name { return []table.Name{table.Categories} }
func (CategoryByID) Tables() []table.Name      { return []table.Name{table.Categories} }
func (CategoryChildren) Tables() []table.Name  { return []table.Name{table.Categories} }
func (CategoryPath) Tables() []table.Name      { return []table.Name{table.Categories} }
func (Sessions) Tables() []table.Name {
	return []table.Name{table.Sessions, table.Categories}
}
func (SessionsWithTags) Tables() []table.Name {
	return []table.Name{table.Sessions, table.Categories, table.SessionTags, table.Tags}
}
func (TagsForSession) Tables() []table.Name {
	return []table.Name{table.SessionTags, table.Tags}
}
func (VisibleTags) Tables() []table.Name  { return []table.Name{table.Tags} }
func (VisibleTodos) Tables() []table.Name { return []table.Name{table.Todos} }
func (TodoCounts) Tables() []table.Name   { return []table.Name{table.Todos} }
func (DurationByCategory) Tables() []table.Name {
	return []table.Name{table.Sessions, table.Categories}
}
func (UIStateDoc) Tables() []table.Name { return []table.Name{table.UIStates} }

// validate rejects malformed descriptors at subscription time with
// DescriptorError - a bad descriptor must never silently return empty
// results.
func validate(d Description) error {
	switch q := d.(type) {
	case CategoryByID:
		if q.ID == "" {
			return &DescriptorError{Query: "CategoryByID", Detail: "empty id"}
		}
	case CategoryChildren:
		if q.ParentID == "" {
			return &DescriptorError{Query: "CategoryChildren", Detail: "empty parent id"}
		}
	case CategoryPath:
		if q.ID == "" {
			return &DescriptorError{Query: "CategoryPath", Detail: "empty id"}
		}
	case TagsForSession:
		if q.SessionID == "" {
			return &DescriptorError{Query: "TagsForSession", Detail: "empty session id"}
		}
	case VisibleTodos:
		switch q.Filter {
		case FilterAll, FilterActive, FilterCompleted:
		default:
			return &DescriptorError{Query: "VisibleTodos", Detail: "unknown filter " + q.Filter}
		}
	case UIStateDoc:
		if q.SessionID == "" {
			return &DescriptorError{Query: "UIStateDoc", Detail: "empty session id"}
		}
	case VisibleCategories, Sessions, SessionsWithTags, VisibleTags, TodoCounts, DurationByCategory:
		// No parameters to check.
	case nil:
		return &DescriptorError{Query: "nil", Detail: "nil descriptor"}
	default:
		return &DescriptorError{Query: "unknown", Detail: "descriptor type outside the sealed set"}
	}
	return nil
}

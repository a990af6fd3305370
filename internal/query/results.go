package query

import "github.com/tempolog/tempolog/internal/table"

// SessionRow is a session joined with its category's display fields.
// Category fields are nil when the referenced category does not exist -
// the join substitutes nulls, it never drops the session.
type SessionRow struct {
	table.Session
	CategoryName  *string `json:"categoryName"`
	CategoryColor *string `json:"categoryColor"`
}

// SessionTagsRow is a SessionRow plus the session's visible tags in
// tag-name order.
type SessionTagsRow struct {
	SessionRow
	Tags []TagRef `json:"tags"`
}

// TagRef is the compact tag shape aggregated onto sessions.
type TagRef struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color *string `json:"color"`
}

// Counts aggregates visible todos by completion state.
type Counts struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
}

// DurationRow is the per-category total of ended session durations.
// CategoryName is nil for sessions pointing at an unknown category.
type DurationRow struct {
	CategoryID    string  `json:"categoryId"`
	CategoryName  *string `json:"categoryName"`
	TotalDuration int64   `json:"totalDuration"` // milliseconds
}

// DefaultUIState is what UIStateDoc returns for a client that has never
// written its document.
func DefaultUIState(sessionID string) table.UIState {
	return table.UIState{SessionID: sessionID, NewTodoText: "", Filter: FilterAll}
}

package table

// Name identifies a materialized table for dependency tracking.
type Name string

const (
	Categories  Name = "categories"
	Sessions    Name = "sessions"
	Tags        Name = "tags"
	SessionTags Name = "sessionTags"
	Todos       Name = "todos"
	UIStates    Name = "uiState"
)

// AllNames lists every table in a stable order.
func AllNames() []Name {
	return []Name{Categories, Sessions, Tags, SessionTags, Todos, UIStates}
}

// Category is a materialized category row. ParentID references another
// category for hierarchical trees; the store accepts arbitrary depth.
type Category struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Color     string  `json:"color"`
	ParentID  *string `json:"parentId"`
	DeletedAt *int64  `json:"deletedAt"`
}

// Session is a materialized timer session row. EndedAt is nil while the
// timer runs. CategoryID is a by-convention reference: a dangling value
// resolves to null fields in joins, never to an error.
type Session struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId"`
	StartedAt  int64  `json:"startedAt"`
	EndedAt    *int64 `json:"endedAt"`
	DeletedAt  *int64 `json:"deletedAt"`
}

// Tag is a materialized tag row.
type Tag struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Color     *string `json:"color"`
	CreatedAt int64   `json:"createdAt"`
	DeletedAt *int64  `json:"deletedAt"`
}

// SessionTag links a session to a tag, keyed by its own link id.
type SessionTag struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	TagID     string `json:"tagId"`
	CreatedAt int64  `json:"createdAt"`
}

// Todo is a materialized todo row.
type Todo struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	DeletedAt *int64 `json:"deletedAt"`
}

// UIState is the per-client UI state document, keyed by session identity.
// Local-only: never synced, lifecycle tied to the local client session.
type UIState struct {
	SessionID   string `json:"sessionId"`
	NewTodoText string `json:"newTodoText"`
	Filter      string `json:"filter"`
}

func (r Category) Key() string   { return r.ID }
func (r Session) Key() string    { return r.ID }
func (r Tag) Key() string        { return r.ID }
func (r SessionTag) Key() string { return r.ID }
func (r Todo) Key() string       { return r.ID }
func (r UIState) Key() string    { return r.SessionID }

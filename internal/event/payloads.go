package event

// Payload is the sealed sum of all event payload types.
//
// The marker method seals the interface to this package so backend code
// (materializer, validator) can switch exhaustively over a closed set.
type Payload interface {
	// EventName returns the stable, versioned wire name for this payload.
	EventName() string
	payloadNode() // Marker method - seals interface to this package
}

// Versioned event names. These are wire/persisted identifiers and must
// never change meaning; schema evolution introduces new names.
const (
	NameTodoCreated          = "v1.TodoCreated"
	NameTodoCompleted        = "v1.TodoCompleted"
	NameTodoUncompleted      = "v1.TodoUncompleted"
	NameTodoDeleted          = "v1.TodoDeleted"
	NameTodoClearedCompleted = "v1.TodoClearedCompleted"
	NameCategoryCreated      = "v1.CategoryCreated"
	NameCategoryRenamed      = "v1.CategoryRenamed"
	NameCategoryColorUpdated = "v1.CategoryColorUpdated"
	NameCategoryDeleted      = "v1.CategoryDeleted"
	NameSessionStarted       = "v1.SessionStarted"
	NameSessionEnded         = "v1.SessionEnded"
	NameTagCreated           = "v1.TagCreated"
	NameTagRenamed           = "v1.TagRenamed"
	NameTagDeleted           = "v1.TagDeleted"
	NameTagAssigned          = "v1.TagAssigned"
	NameTagRemoved           = "v1.TagRemoved"
	NameUIStateSet           = "local.UIStateSet"
)

// All timestamps are epoch milliseconds carried inside the payload.
// Materialization never consults the wall clock.

// TodoCreated inserts a todo row.
type TodoCreated struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// TodoCompleted marks a todo completed.
type TodoCompleted struct {
	ID string `json:"id"`
}

// TodoUncompleted clears a todo's completed flag.
type TodoUncompleted struct {
	ID string `json:"id"`
}

// TodoDeleted soft-deletes a todo.
type TodoDeleted struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deletedAt"`
}

// TodoClearedCompleted soft-deletes every completed todo.
type TodoClearedCompleted struct {
	DeletedAt int64 `json:"deletedAt"`
}

// CategoryCreated inserts a category row. ParentID is nil for roots;
// the data layer accepts chains of arbitrary depth (depth limits are an
// application policy, not a store invariant).
type CategoryCreated struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
	ParentID *string `json:"parentId,omitempty"`
}

// CategoryRenamed updates a category's name.
type CategoryRenamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CategoryColorUpdated updates a category's color.
type CategoryColorUpdated struct {
	ID    string `json:"id"`
	Color string `json:"color"`
}

// CategoryDeleted soft-deletes a category.
type CategoryDeleted struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deletedAt"`
}

// SessionStarted inserts a timer session row with a null end time.
// CategoryID is a foreign reference by convention only - a dangling
// reference materializes fine and joins resolve it to null fields.
type SessionStarted struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId"`
	StartedAt  int64  `json:"startedAt"`
}

// SessionEnded sets the end time on the referenced session.
type SessionEnded struct {
	SessionID string `json:"sessionId"`
	EndedAt   int64  `json:"endedAt"`
}

// TagCreated inserts a tag row.
type TagCreated struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Color     *string `json:"color"`
	CreatedAt int64   `json:"createdAt"`
}

// TagRenamed updates a tag's name.
type TagRenamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TagDeleted soft-deletes a tag.
type TagDeleted struct {
	ID        string `json:"id"`
	DeletedAt int64  `json:"deletedAt"`
}

// TagAssigned inserts a session-tag link row.
type TagAssigned struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	TagID     string `json:"tagId"`
	CreatedAt int64  `json:"createdAt"`
}

// TagRemoved removes the link rows between a session and a tag.
// Link rows are the one table that is physically deleted: the link has no
// independent history and the removal event itself is retained forever.
type TagRemoved struct {
	SessionID string `json:"sessionId"`
	TagID     string `json:"tagId"`
}

// UIStateSet replaces the per-client UI state document.
// Local-only: materialized on the committing replica, never pushed.
type UIStateSet struct {
	NewTodoText string `json:"newTodoText"`
	Filter      string `json:"filter"`
}

func (TodoCreated) EventName() string          { return NameTodoCreated }
func (TodoCompleted) EventName() string        { return NameTodoCompleted }
func (TodoUncompleted) EventName() string      { return NameTodoUncompleted }
func (TodoDeleted) EventName() string          { return NameTodoDeleted }
func (TodoClearedCompleted) EventName() string { return NameTodoClearedCompleted }
func (CategoryCreated) EventName() string      { return NameCategoryCreated }
func (CategoryRenamed) EventName() string      { return NameCategoryRenamed }
func (CategoryColorUpdated) EventName() string { return NameCategoryColorUpdated }
func (CategoryDeleted) EventName() string      { return NameCategoryDeleted }
func (SessionStarted) EventName() string       { return NameSessionStarted }
func (SessionEnded) EventName() string         { return NameSessionEnded }
func (TagCreated) EventName() string           { return NameTagCreated }
func (TagRenamed) EventName() string           { return NameTagRenamed }
func (TagDeleted) EventName() string           { return NameTagDeleted }
func (TagAssigned) EventName() string          { return NameTagAssigned }
func (TagRemoved) EventName() string           { return NameTagRemoved }
func (UIStateSet) EventName() string           { return NameUIStateSet }

func (TodoCreated) payloadNode()          {}
func (TodoCompleted) payloadNode()        {}
func (TodoUncompleted) payloadNode()      {}
func (TodoDeleted) payloadNode()          {}
func (TodoClearedCompleted) payloadNode() {}
func (CategoryCreated) payloadNode()      {}
func (CategoryRenamed) payloadNode()      {}
func (CategoryColorUpdated) payloadNode() {}
func (CategoryDeleted) payloadNode()      {}
func (SessionStarted) payloadNode()       {}
func (SessionEnded) payloadNode()         {}
func (TagCreated) payloadNode()           {}
func (TagRenamed) payloadNode()           {}
func (TagDeleted) payloadNode()           {}
func (TagAssigned) payloadNode()          {}
func (TagRemoved) payloadNode()           {}
func (UIStateSet) payloadNode()           {}

// LocalOnly reports whether an event name belongs to the client-local
// taxonomy. Local-only events materialize but are never pushed to the
// sync authority.
func LocalOnly(name string) bool {
	return name == NameUIStateSet
}

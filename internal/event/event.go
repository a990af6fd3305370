package event

import (
	"encoding/json"
	"fmt"
)

// Event is an immutable record in the replica's event log.
//
// ID is a caller-supplied opaque identifier, assumed globally unique
// (uuid in practice). Seq and Origin are stamped by the commit path and
// together with ID define the deterministic total order used for replay
// and multi-replica merge.
type Event struct {
	ID      string
	Seq     int64
	Origin  string
	Name    string
	Payload Payload
}

// New builds an unstamped event for the given payload. Seq and Origin are
// assigned by the commit path, never by the caller.
func New(id string, p Payload) Event {
	return Event{ID: id, Name: p.EventName(), Payload: p}
}

// Less reports whether a precedes b in the deterministic total order:
// Lamport seq first, then origin identity, then event id. The order is
// total for distinct events and independent of arrival order, which is
// what makes divergent histories merge to the same log on every replica.
func Less(a, b Event) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Origin != b.Origin {
		return a.Origin < b.Origin
	}
	return a.ID < b.ID
}

// wireEvent is the persisted/wire JSON shape of an event.
type wireEvent struct {
	ID      string          `json:"id"`
	Seq     int64           `json:"seq"`
	Origin  string          `json:"origin"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the event with its payload nested under "payload".
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := MarshalPayload(e.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		ID:      e.ID,
		Seq:     e.Seq,
		Origin:  e.Origin,
		Name:    e.Name,
		Payload: raw,
	})
}

// UnmarshalJSON decodes the event, resolving the payload type from the
// versioned name. Unknown names are a hard error.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	p, err := DecodePayload(w.Name, w.Payload)
	if err != nil {
		return err
	}
	*e = Event{ID: w.ID, Seq: w.Seq, Origin: w.Origin, Name: w.Name, Payload: p}
	return nil
}

// MarshalPayload encodes a payload to its wire JSON.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal payload: nil payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload %s: %w", p.EventName(), err)
	}
	return data, nil
}

// DecodePayload parses wire JSON into the typed payload for name.
//
// The switch is the single decode dispatch point for the taxonomy. An
// unknown name returns UnknownNameError so callers fail loudly instead of
// skipping events they do not understand.
func DecodePayload(name string, data []byte) (Payload, error) {
	var p Payload
	switch name {
	case NameTodoCreated:
		p = &TodoCreated{}
	case NameTodoCompleted:
		p = &TodoCompleted{}
	case NameTodoUncompleted:
		p = &TodoUncompleted{}
	case NameTodoDeleted:
		p = &TodoDeleted{}
	case NameTodoClearedCompleted:
		p = &TodoClearedCompleted{}
	case NameCategoryCreated:
		p = &CategoryCreated{}
	case NameCategoryRenamed:
		p = &CategoryRenamed{}
	case NameCategoryColorUpdated:
		p = &CategoryColorUpdated{}
	case NameCategoryDeleted:
		p = &CategoryDeleted{}
	case NameSessionStarted:
		p = &SessionStarted{}
	case NameSessionEnded:
		p = &SessionEnded{}
	case NameTagCreated:
		p = &TagCreated{}
	case NameTagRenamed:
		p = &TagRenamed{}
	case NameTagDeleted:
		p = &TagDeleted{}
	case NameTagAssigned:
		p = &TagAssigned{}
	case NameTagRemoved:
		p = &TagRemoved{}
	case NameUIStateSet:
		p = &UIStateSet{}
	default:
		return nil, &UnknownNameError{Name: name}
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return deref(p), nil
}

// deref converts the pointer used for unmarshaling back to the value form
// the sum type is switched on.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *TodoCreated:
		return *v
	case *TodoCompleted:
		return *v
	case *TodoUncompleted:
		return *v
	case *TodoDeleted:
		return *v
	case *TodoClearedCompleted:
		return *v
	case *CategoryCreated:
		return *v
	case *CategoryRenamed:
		return *v
	case *CategoryColorUpdated:
		return *v
	case *CategoryDeleted:
		return *v
	case *SessionStarted:
		return *v
	case *SessionEnded:
		return *v
	case *TagCreated:
		return *v
	case *TagRenamed:
		return *v
	case *TagDeleted:
		return *v
	case *TagAssigned:
		return *v
	case *TagRemoved:
		return *v
	case *UIStateSet:
		return *v
	default:
		return p
	}
}

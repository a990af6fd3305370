// Package materialize folds events into table state.
//
// Apply is a pure mapping (snapshot, event) -> snapshot': one handler per
// event type, no wall clock, no randomness, no input beyond the payload
// and the prior snapshot. Replaying any log prefix from an empty snapshot
// reproduces the exact same state, which is the invariant everything else
// (sync rebase, checkpointing, the replay verifier) leans on.
//
// Policy decisions made explicit here:
//   - Unknown payload types are a fatal schema error, never skipped.
//   - Update handlers targeting a missing row id are no-ops; rows are
//     never fabricated.
//   - Insert handlers treat duplicate primary ids as IntegrityError.
package materialize

import (
	"fmt"

	"github.com/tempolog/tempolog/internal/event"
	"github.com/tempolog/tempolog/internal/table"
)

// Apply folds one event into the snapshot, mutating it in place, and
// returns the tables the event touched for query invalidation.
//
// The caller owns the snapshot: the commit path applies events to a
// private clone and swaps it in only when the whole batch folds cleanly.
func Apply(snap *table.Snapshot, ev event.Event) ([]table.Name, error) {
	switch p := ev.Payload.(type) {
	case event.TodoCreated:
		if err := snap.Todos.Insert(table.Todo{ID: p.ID, Text: p.Text}); err != nil {
			return nil, err
		}
		return []table.Name{table.Todos}, nil

	case event.TodoCompleted:
		snap.Todos.Update(p.ID, func(r table.Todo) table.Todo {
			r.Completed = true
			return r
		})
		return []table.Name{table.Todos}, nil

	case event.TodoUncompleted:
		snap.Todos.Update(p.ID, func(r table.Todo) table.Todo {
			r.Completed = false
			return r
		})
		return []table.Name{table.Todos}, nil

	case event.TodoDeleted:
		deletedAt := p.DeletedAt
		snap.Todos.Update(p.ID, func(r table.Todo) table.Todo {
			r.DeletedAt = &deletedAt
			return r
		})
		return []table.Name{table.Todos}, nil

	case event.TodoClearedCompleted:
		deletedAt := p.DeletedAt
		snap.Todos.UpdateWhere(
			func(r table.Todo) bool { return r.Completed && r.DeletedAt == nil },
			func(r table.Todo) table.Todo {
				r.DeletedAt = &deletedAt
				return r
			},
		)
		return []table.Name{table.Todos}, nil

	case event.CategoryCreated:
		row := table.Category{ID: p.ID, Name: p.Name, Color: p.Color}
		if p.ParentID != nil {
			parent := *p.ParentID
			row.ParentID = &parent
		}
		if err := snap.Categories.Insert(row); err != nil {
			return nil, err
		}
		return []table.Name{table.Categories}, nil

	case event.CategoryRenamed:
		snap.Categories.Update(p.ID, func(r table.Category) table.Category {
			r.Name = p.Name
			return r
		})
		return []table.Name{table.Categories}, nil

	case event.CategoryColorUpdated:
		snap.Categories.Update(p.ID, func(r table.Category) table.Category {
			r.Color = p.Color
			return r
		})
		return []table.Name{table.Categories}, nil

	case event.CategoryDeleted:
		deletedAt := p.DeletedAt
		snap.Categories.Update(p.ID, func(r table.Category) table.Category {
			r.DeletedAt = &deletedAt
			return r
		})
		return []table.Name{table.Categories}, nil

	case event.SessionStarted:
		row := table.Session{ID: p.ID, CategoryID: p.CategoryID, StartedAt: p.StartedAt}
		if err := snap.Sessions.Insert(row); err != nil {
			return nil, err
		}
		return []table.Name{table.Sessions}, nil

	case event.SessionEnded:
		endedAt := p.EndedAt
		snap.Sessions.Update(p.SessionID, func(r table.Session) table.Session {
			r.EndedAt = &endedAt
			return r
		})
		return []table.Name{table.Sessions}, nil

	case event.TagCreated:
		row := table.Tag{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
		if p.Color != nil {
			color := *p.Color
			row.Color = &color
		}
		if err := snap.Tags.Insert(row); err != nil {
			return nil, err
		}
		return []table.Name{table.Tags}, nil

	case event.TagRenamed:
		snap.Tags.Update(p.ID, func(r table.Tag) table.Tag {
			r.Name = p.Name
			return r
		})
		return []table.Name{table.Tags}, nil

	case event.TagDeleted:
		deletedAt := p.DeletedAt
		snap.Tags.Update(p.ID, func(r table.Tag) table.Tag {
			r.DeletedAt = &deletedAt
			return r
		})
		return []table.Name{table.Tags}, nil

	case event.TagAssigned:
		row := table.SessionTag{ID: p.ID, SessionID: p.SessionID, TagID: p.TagID, CreatedAt: p.CreatedAt}
		if err := snap.SessionTags.Insert(row); err != nil {
			return nil, err
		}
		return []table.Name{table.SessionTags}, nil

	case event.TagRemoved:
		// Link rows carry no history: physical removal, matching the
		// original materializer's delete-where semantics.
		snap.SessionTags.DeleteWhere(func(r table.SessionTag) bool {
			return r.SessionID == p.SessionID && r.TagID == p.TagID
		})
		return []table.Name{table.SessionTags}, nil

	case event.UIStateSet:
		// Single-row-per-client document keyed by the committing
		// replica's session identity. Set semantics: insert or replace.
		if ok := snap.UIStates.Update(ev.Origin, func(r table.UIState) table.UIState {
			r.NewTodoText = p.NewTodoText
			r.Filter = p.Filter
			return r
		}); !ok {
			row := table.UIState{SessionID: ev.Origin, NewTodoText: p.NewTodoText, Filter: p.Filter}
			if err := snap.UIStates.Insert(row); err != nil {
				return nil, err
			}
		}
		return []table.Name{table.UIStates}, nil

	case nil:
		return nil, fmt.Errorf("materialize %s: nil payload", ev.Name)

	default:
		return nil, fmt.Errorf("materialize: unknown event type %T (%s)", ev.Payload, ev.Name)
	}
}

// Replay folds an ordered event slice into a fresh snapshot.
// Used at startup, for checkpoint rebase, and by the replay verifier.
func Replay(events []event.Event) (*table.Snapshot, error) {
	snap := table.NewSnapshot()
	for _, ev := range events {
		if _, err := Apply(snap, ev); err != nil {
			return nil, fmt.Errorf("replay event %s (seq=%d): %w", ev.ID, ev.Seq, err)
		}
	}
	return snap, nil
}

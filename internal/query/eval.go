package query

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tempolog/tempolog/internal/table"
)

// newCollator builds the fixed collator used for name ordering.
// The root collation is locale-independent, so every replica sorts names
// identically.
func newCollator() *collate.Collator {
	return collate.New(language.Und)
}

// evaluate computes a descriptor's result against one snapshot.
//
// The switch is exhaustive over the sealed descriptor set; validate has
// already run, so an unknown type here is a programming error surfaced
// as DescriptorError rather than a silent empty result.
func evaluate(snap *table.Snapshot, d Description, c *collate.Collator) (any, error) {
	switch q := d.(type) {
	case VisibleCategories:
		rows := snap.Categories.Where(func(r table.Category) bool { return r.DeletedAt == nil })
		sortCategoriesByName(rows, c)
		return rows, nil

	case CategoryByID:
		row, ok := snap.Categories.Get(q.ID)
		if !ok {
			return (*table.Category)(nil), nil
		}
		return &row, nil

	case CategoryChildren:
		rows := snap.Categories.Where(func(r table.Category) bool {
			return r.DeletedAt == nil && r.ParentID != nil && *r.ParentID == q.ParentID
		})
		sortCategoriesByName(rows, c)
		return rows, nil

	case CategoryPath:
		return categoryPath(snap, q.ID), nil

	case Sessions:
		rows := sessionRows(snap, q.RunningOnly)
		return rows, nil

	case SessionsWithTags:
		base := sessionRows(snap, false)
		out := make([]SessionTagsRow, len(base))
		for i, row := range base {
			out[i] = SessionTagsRow{
				SessionRow: row,
				Tags:       tagRefsForSession(snap, row.ID, c),
			}
		}
		return out, nil

	case TagsForSession:
		return tagsForSession(snap, q.SessionID, c), nil

	case VisibleTags:
		rows := snap.Tags.Where(func(r table.Tag) bool { return r.DeletedAt == nil })
		sortTagsByName(rows, c)
		return rows, nil

	case VisibleTodos:
		rows := snap.Todos.Where(func(r table.Todo) bool {
			if r.DeletedAt != nil {
				return false
			}
			switch q.Filter {
			case FilterActive:
				return !r.Completed
			case FilterCompleted:
				return r.Completed
			default:
				return true
			}
		})
		return rows, nil

	case TodoCounts:
		return Counts{
			Active: snap.Todos.CountWhere(func(r table.Todo) bool {
				return r.DeletedAt == nil && !r.Completed
			}),
			Completed: snap.Todos.CountWhere(func(r table.Todo) bool {
				return r.DeletedAt == nil && r.Completed
			}),
		}, nil

	case DurationByCategory:
		return durationByCategory(snap), nil

	case UIStateDoc:
		row, ok := snap.UIStates.Get(q.SessionID)
		if !ok {
			return DefaultUIState(q.SessionID), nil
		}
		return row, nil

	default:
		return nil, &DescriptorError{Query: "unknown", Detail: "descriptor type outside the sealed set"}
	}
}

// sessionRows joins visible sessions with category display fields,
// ordered startedAt DESC with id as the stable tiebreak.
func sessionRows(snap *table.Snapshot, runningOnly bool) []SessionRow {
	sessions := snap.Sessions.Where(func(r table.Session) bool {
		if r.DeletedAt != nil {
			return false
		}
		return !runningOnly || r.EndedAt == nil
	})

	out := make([]SessionRow, len(sessions))
	for i, s := range sessions {
		row := SessionRow{Session: s}
		if cat, ok := snap.Categories.Get(s.CategoryID); ok {
			name, color := cat.Name, cat.Color
			row.CategoryName = &name
			row.CategoryColor = &color
		}
		out[i] = row
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt > out[j].StartedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// tagsForSession returns the visible tags linked to a session in
// name order.
func tagsForSession(snap *table.Snapshot, sessionID string, c *collate.Collator) []table.Tag {
	links := snap.SessionTags.Where(func(r table.SessionTag) bool {
		return r.SessionID == sessionID
	})

	tags := make([]table.Tag, 0, len(links))
	for _, link := range links {
		tag, ok := snap.Tags.Get(link.TagID)
		if !ok || tag.DeletedAt != nil {
			continue
		}
		tags = append(tags, tag)
	}
	sortTagsByName(tags, c)
	return tags
}

func tagRefsForSession(snap *table.Snapshot, sessionID string, c *collate.Collator) []TagRef {
	tags := tagsForSession(snap, sessionID, c)
	refs := make([]TagRef, len(tags))
	for i, t := range tags {
		refs[i] = TagRef{ID: t.ID, Name: t.Name, Color: t.Color}
	}
	return refs
}

// categoryPath walks parent references from the category to its root and
// returns the chain root-first. The visited set bounds the walk: a
// parent cycle (should not happen under normal operation) terminates the
// path instead of looping forever, and a dangling parent simply ends it.
func categoryPath(snap *table.Snapshot, id string) []table.Category {
	var reversed []table.Category
	visited := make(map[string]bool)

	current := id
	for current != "" && !visited[current] {
		visited[current] = true
		row, ok := snap.Categories.Get(current)
		if !ok {
			break
		}
		reversed = append(reversed, row)
		if row.ParentID == nil {
			break
		}
		current = *row.ParentID
	}

	path := make([]table.Category, len(reversed))
	for i, row := range reversed {
		path[len(reversed)-1-i] = row
	}
	return path
}

// durationByCategory sums ended, visible session durations per category.
// Always recomputed from the full snapshot - aggregates are never stale
// relative to a synchronous read at commit time.
func durationByCategory(snap *table.Snapshot) []DurationRow {
	totals := make(map[string]int64)
	ended := snap.Sessions.Where(func(r table.Session) bool {
		return r.DeletedAt == nil && r.EndedAt != nil
	})
	for _, r := range ended {
		totals[r.CategoryID] += *r.EndedAt - r.StartedAt
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]DurationRow, len(ids))
	for i, id := range ids {
		row := DurationRow{CategoryID: id, TotalDuration: totals[id]}
		if cat, ok := snap.Categories.Get(id); ok {
			name := cat.Name
			row.CategoryName = &name
		}
		out[i] = row
	}
	return out
}

func sortCategoriesByName(rows []table.Category, c *collate.Collator) {
	sort.Slice(rows, func(i, j int) bool {
		if cmp := c.CompareString(rows[i].Name, rows[j].Name); cmp != 0 {
			return cmp < 0
		}
		return rows[i].ID < rows[j].ID
	})
}

func sortTagsByName(rows []table.Tag, c *collate.Collator) {
	sort.Slice(rows, func(i, j int) bool {
		if cmp := c.CompareString(rows[i].Name, rows[j].Name); cmp != 0 {
			return cmp < 0
		}
		return rows[i].ID < rows[j].ID
	})
}

package changelog

import (
	"context"
	"fmt"
	"sort"
)

// ChangeType is the kind of mutation a change records.
type ChangeType string

const (
	Insert ChangeType = "insert"
	Update ChangeType = "update"
	Delete ChangeType = "delete"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case Insert, Update, Delete:
		return true
	}
	return false
}

// Change is one entry of the change log.
type Change struct {
	Index      int64      `json:"index"`
	Collection string     `json:"identifier"`
	ExternalID int64      `json:"id"`
	Type       ChangeType `json:"type"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s#%d{%s %d}", c.Collection, c.Index, c.Type, c.ExternalID)
}

// Store defines the interface for change-log storage.
type Store interface {
	// Append stores a change. A zero Index is assigned last+1. A positive
	// Index is kept when it is past the last one; otherwise the change is
	// re-indexed to last+1. Appending a (collection, id, type) tuple that is
	// already stored at an equal or later index is a no-op and returns the
	// stored change.
	Append(ctx context.Context, change Change) (Change, error)
	// Since returns changes with Index > from in ascending order.
	Since(ctx context.Context, collection string, from int64) ([]Change, error)
	// Latest returns the change with the highest index, or nil.
	Latest(ctx context.Context, collection string) (*Change, error)
	// Close releases resources held by the store.
	Close() error
}

// Collapse keeps only the highest-index change per external id and returns
// the survivors ordered by index.
func Collapse(changes []Change) []Change {
	latest := make(map[int64]Change, len(changes))
	for _, c := range changes {
		if prev, ok := latest[c.ExternalID]; !ok || c.Index > prev.Index {
			latest[c.ExternalID] = c
		}
	}

	out := make([]Change, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func validate(change Change) error {
	if change.Collection == "" {
		return fmt.Errorf("change collection cannot be empty")
	}
	if !change.Type.Valid() {
		return fmt.Errorf("unknown change type %q", change.Type)
	}
	if change.Index < 0 {
		return fmt.Errorf("change index cannot be negative: %d", change.Index)
	}
	return nil
}

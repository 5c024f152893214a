package changelog

import (
	"context"
	"sync"

	"coordsync/internal/syncerr"
)

type tupleKey struct {
	collection string
	externalID int64
	changeType ChangeType
}

// MemoryStore is an in-memory implementation of Store.
// It's thread-safe and keeps everything for the life of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	changes map[string][]Change // collection -> changes ordered by index
	tuples  map[tupleKey]int64  // tuple -> highest index stored
}

// NewMemoryStore creates a new in-memory change log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		changes: make(map[string][]Change),
		tuples:  make(map[tupleKey]int64),
	}
}

// Append stores a change.
func (s *MemoryStore) Append(ctx context.Context, change Change) (Change, error) {
	if err := validate(change); err != nil {
		return Change{}, syncerr.NewStorageError(syncerr.OpAppend, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tupleKey{change.Collection, change.ExternalID, change.Type}
	if change.Index > 0 {
		if idx, ok := s.tuples[key]; ok && idx >= change.Index {
			return s.findLocked(change.Collection, idx), nil
		}
	}

	log := s.changes[change.Collection]
	var last int64
	if len(log) > 0 {
		last = log[len(log)-1].Index
	}
	if change.Index <= last {
		change.Index = last + 1
	}

	s.changes[change.Collection] = append(log, change)
	s.tuples[key] = change.Index
	return change, nil
}

// Since returns changes after from.
func (s *MemoryStore) Since(ctx context.Context, collection string, from int64) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Change, 0)
	for _, c := range s.changes[collection] {
		if c.Index > from {
			out = append(out, c)
		}
	}
	return out, nil
}

// Latest returns the last change of collection.
func (s *MemoryStore) Latest(ctx context.Context, collection string) (*Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.changes[collection]
	if len(log) == 0 {
		return nil, nil
	}
	last := log[len(log)-1]
	return &last, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// findLocked returns the change at idx (must be called with lock held).
func (s *MemoryStore) findLocked(collection string, idx int64) Change {
	for _, c := range s.changes[collection] {
		if c.Index == idx {
			return c
		}
	}
	return Change{}
}

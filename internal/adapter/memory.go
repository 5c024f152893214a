package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory DataSource with local pending queues and
// last-writer-wins updates. It's thread-safe.
type Memory struct {
	mu        sync.RWMutex
	records   map[int64]Record // external id -> record
	pending   []Record         // local inserts awaiting an external id
	updates   map[int64]bool   // external ids with a local update to push
	deletes   map[int64]bool   // external ids with a local delete to push
	nextLocal int64
	highest   int64 // highest external id ever stored; deletes never lower it

	// Now stamps local edits. Defaults to time.Now.
	Now func() time.Time
}

var _ DataSource = (*Memory)(nil)
var _ UpdateSource = (*Memory)(nil)
var _ DeleteSource = (*Memory)(nil)

// NewMemory creates an empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[int64]Record),
		updates: make(map[int64]bool),
		deletes: make(map[int64]bool),
		Now:     time.Now,
	}
}

// Add queues a local insert.
func (m *Memory) Add(data json.RawMessage) Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLocal++
	rec := Record{Data: cloneRaw(data), UpdatedAt: m.Now(), LocalID: m.nextLocal}
	m.pending = append(m.pending, rec)
	return rec
}

// Edit changes a replicated record locally and queues the update.
func (m *Memory) Edit(id int64, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %d not found", id)
	}
	rec.Data = cloneRaw(data)
	rec.UpdatedAt = m.Now()
	m.records[id] = rec
	m.updates[id] = true
	return nil
}

// Remove queues a local delete of a replicated record.
func (m *Memory) Remove(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("record %d not found", id)
	}
	m.deletes[id] = true
	return nil
}

// Get returns the replicated record with id.
func (m *Memory) Get(id int64) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Snapshot returns all replicated records ordered by external id.
func (m *Memory) Snapshot() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rangeLocked(1, 0)
}

// PendingCount returns the number of local mutations not yet pushed.
func (m *Memory) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending) + len(m.updates) + len(m.deletes)
}

// LatestExternalID returns the highest external id this source has ever
// held, including deleted ones.
func (m *Memory) LatestExternalID(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highest, nil
}

func (m *Memory) Records(ctx context.Context, from, to int64) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rangeLocked(from, to), nil
}

func (m *Memory) Insert(ctx context.Context, rec Record, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ExternalID = id
	rec.Data = cloneRaw(rec.Data)
	rec.LocalID = 0
	m.records[id] = rec
	m.highest = max(m.highest, id)
	return nil
}

func (m *Memory) Update(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Data = cloneRaw(rec.Data)
	rec.LocalID = 0
	m.records[rec.ExternalID] = rec
	m.highest = max(m.highest, rec.ExternalID)
	delete(m.updates, rec.ExternalID)
	return nil
}

func (m *Memory) Delete(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, rec.ExternalID)
	delete(m.updates, rec.ExternalID)
	delete(m.deletes, rec.ExternalID)
	return nil
}

// DecideUpdate applies an incoming update only if it is strictly newer
// than the local copy.
func (m *Memory) DecideUpdate(ctx context.Context, incoming Record) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	local, ok := m.records[incoming.ExternalID]
	if !ok {
		return true, nil
	}
	return incoming.UpdatedAt.After(local.UpdatedAt), nil
}

func (m *Memory) DecideDelete(ctx context.Context, incoming Record) (bool, error) {
	return true, nil
}

func (m *Memory) FetchPendingInsert(ctx context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.pending) == 0 {
		return nil, nil
	}
	rec := m.pending[0]
	return &rec, nil
}

func (m *Memory) AfterInsert(ctx context.Context, rec Record, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, p := range m.pending {
		if p.LocalID == rec.LocalID {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			p.ExternalID = id
			p.LocalID = 0
			m.records[id] = p
			m.highest = max(m.highest, id)
			return nil
		}
	}
	return fmt.Errorf("pending insert %d not found", rec.LocalID)
}

func (m *Memory) FetchPendingUpdate(ctx context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := lowest(m.updates)
	if !ok {
		return nil, nil
	}
	rec := m.records[id]
	return &rec, nil
}

func (m *Memory) AfterUpdate(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.updates, rec.ExternalID)
	return nil
}

func (m *Memory) FetchPendingDelete(ctx context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := lowest(m.deletes)
	if !ok {
		return nil, nil
	}
	rec, exists := m.records[id]
	if !exists {
		rec = Record{ExternalID: id}
	}
	return &rec, nil
}

func (m *Memory) AfterDelete(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, rec.ExternalID)
	delete(m.deletes, rec.ExternalID)
	delete(m.updates, rec.ExternalID)
	return nil
}

// rangeLocked returns records in [from, to] (must be called with lock held).
func (m *Memory) rangeLocked(from, to int64) []Record {
	out := make([]Record, 0)
	for id, rec := range m.records {
		if id < from || (to > 0 && id > to) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

func lowest(set map[int64]bool) (int64, bool) {
	var min int64
	found := false
	for id := range set {
		if !found || id < min {
			min = id
			found = true
		}
	}
	return min, found
}

func cloneRaw(data json.RawMessage) json.RawMessage {
	if data == nil {
		return nil
	}
	return append(json.RawMessage(nil), data...)
}

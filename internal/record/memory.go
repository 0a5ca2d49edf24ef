package record

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is the default store when
// no uploads table is configured, and the test double everywhere else.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*UploadRecord
	committed map[string]map[int]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*UploadRecord),
		committed: make(map[string]map[int]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, rec *UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.records[rec.ID]; exists {
		return ErrAlreadyExists
	}

	cp := *rec
	m.records[rec.ID] = &cp
	m.committed[rec.ID] = make(map[int]struct{})
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) CommitChunk(ctx context.Context, id string, index int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return 0, ErrNotFound
	}
	if rec.Status != StatusUploading {
		return 0, ErrNotUploading
	}

	set := m.committed[id]
	if _, dup := set[index]; dup {
		return len(set), ErrDuplicateChunk
	}

	set[index] = struct{}{}
	rec.UpdatedAt = time.Now().UTC()
	return len(set), nil
}

func (m *MemoryStore) ChunksCommitted(ctx context.Context, id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.records[id]; !ok {
		return 0, ErrNotFound
	}
	return len(m.committed[id]), nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusUploading {
		return ErrNotUploading
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return ErrNotFound
	}

	delete(m.records, id)
	delete(m.committed, id)
	return nil
}

package store

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memRecord struct {
	data     []byte
	sequence int
	updated  time.Time
}

// MemoryStore keeps records in memory. Useful for tests and examples.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memRecord
	sequence    map[string]int
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*memRecord),
		sequence:    make(map[string]int),
	}
}

// Put implements Store. The data is copied.
func (s *MemoryStore) Put(ctx context.Context, collection, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	records, ok := s.collections[collection]
	if !ok {
		records = make(map[string]*memRecord)
		s.collections[collection] = records
	}
	s.sequence[collection]++
	records[key] = &memRecord{
		data:     slices.Clone(data),
		sequence: s.sequence[collection],
		updated:  time.Now().UTC(),
	}
	return nil
}

// Get implements Store. The returned slice is a copy.
func (s *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(rec.data), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, collection string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(s.collections[collection]))
	for key, rec := range s.collections[collection] {
		infos = append(infos, Info{
			Collection: collection,
			Key:        key,
			Sequence:   rec.sequence,
			Updated:    rec.updated,
			Size:       int64(len(rec.data)),
		})
	}
	slices.SortFunc(infos, func(a, b Info) int { return a.Sequence - b.Sequence })
	return infos, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.collections[collection], key)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}

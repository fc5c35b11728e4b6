package store

import (
	"context"
	"slices"
	"sync"

	"github.com/randalmurphal/choreo/pkg/choreo/saga"
)

// MemoryStore is an in-memory record store for tests and demos.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]saga.Record
	closed  bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]saga.Record)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, r saga.Record) error {
	if r.RequestID == "" {
		return ErrMissingRequestID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	r.ImageURLs = slices.Clone(r.ImageURLs)
	m.records[r.RequestID] = r
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, requestID string) (saga.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return saga.Record{}, ErrStoreClosed
	}
	r, ok := m.records[requestID]
	if !ok {
		return saga.Record{}, ErrNotFound
	}
	r.ImageURLs = slices.Clone(r.ImageURLs)
	return r, nil
}

// ListByChat implements Store.
func (m *MemoryStore) ListByChat(_ context.Context, chatID int64, limit int) ([]saga.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]saga.Record, 0)
	for _, r := range m.records {
		if r.ChatID == chatID {
			r.ImageURLs = slices.Clone(r.ImageURLs)
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b saga.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.RequestID < b.RequestID {
			return -1
		}
		if a.RequestID > b.RequestID {
			return 1
		}
		return 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus implements Store.
func (m *MemoryStore) CountByStatus(_ context.Context) (map[saga.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	counts := make(map[saga.Status]int)
	for _, r := range m.records {
		counts[r.Status]++
	}
	return counts, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

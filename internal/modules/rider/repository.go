// README: Persistence contract and an in-memory implementation.
package rider

import (
	"context"
	"sync"

	"dropoff/internal/types"
)

// Repository persists riders. Save succeeds only when the stored version
// equals expectedVersion, and bumps r.Version on success.
type Repository interface {
	Create(ctx context.Context, r *Rider) error
	Get(ctx context.Context, id types.ID) (*Rider, error)
	Save(ctx context.Context, r *Rider, expectedVersion int) error
}

type MemoryStore struct {
	mu     sync.Mutex
	riders map[types.ID]*Rider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{riders: make(map[types.ID]*Rider)}
}

func (m *MemoryStore) Create(_ context.Context, r *Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.riders[r.ID]; ok {
		return ErrConcurrentModification
	}
	m.riders[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Rider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, r *Rider, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.riders[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentModification
	}
	r.Version = expectedVersion + 1
	m.riders[r.ID] = r.Clone()
	return nil
}

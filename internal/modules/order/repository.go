// README: Persistence contract and an in-memory implementation.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"dropoff/internal/types"
)

// Repository persists orders. Save succeeds only when the stored version
// equals expectedVersion, and bumps o.Version on success.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	Save(ctx context.Context, o *Order, expectedVersion int) error
	// FindExpiredUnpaid lists non-terminal PENDING_PAYMENT orders created
	// before cutoff, ordered by (created, id) and strictly after the after
	// cursor when one is given. limit <= 0 means no limit.
	FindExpiredUnpaid(ctx context.Context, cutoff time.Time, after *ExpiredRef, limit int) ([]ExpiredRef, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// ExpiredRef is a sweep candidate; it doubles as the keyset cursor.
type ExpiredRef struct {
	ID        types.ID
	CreatedAt time.Time
}

// Before orders refs by creation time, then ID.
func (r ExpiredRef) Before(o ExpiredRef) bool {
	if !r.CreatedAt.Equal(o.CreatedAt) {
		return r.CreatedAt.Before(o.CreatedAt)
	}
	return r.ID < o.ID
}

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrConcurrentModification
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, o *Order, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConcurrentModification
	}
	o.Version = expectedVersion + 1
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) FindExpiredUnpaid(_ context.Context, cutoff time.Time, after *ExpiredRef, limit int) ([]ExpiredRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []ExpiredRef
	for _, o := range m.orders {
		if o.PaymentStatus != PaymentPending || o.Status.Terminal() || !o.Timestamps.Created.Before(cutoff) {
			continue
		}
		ref := ExpiredRef{ID: o.ID, CreatedAt: o.Timestamps.Created}
		if after != nil && !after.Before(ref) {
			continue
		}
		found = append(found, ref)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Before(found[j]) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.ID = m.seq
	m.events = append(m.events, *e)
	return nil
}

// Events returns the recorded lifecycle events of one order in append order.
func (m *MemoryStore) Events(orderID types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

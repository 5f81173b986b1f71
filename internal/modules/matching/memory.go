// README: In-process rider index for single-node runs without Redis.
package matching

import (
	"context"
	"sync"

	"dropoff/internal/modules/location"
	"dropoff/internal/types"
)

type MemoryIndex struct {
	mu        sync.RWMutex
	positions map[types.ID]types.Point
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{positions: make(map[types.ID]types.Point)}
}

func (m *MemoryIndex) Upsert(_ context.Context, id types.ID, p types.Point) error {
	m.mu.Lock()
	m.positions[id] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, id types.ID) error {
	m.mu.Lock()
	delete(m.positions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Nearby(_ context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Nearby
	for id, pos := range m.positions {
		km, err := location.DistanceKm(p, pos)
		if err != nil {
			return nil, err
		}
		if km <= radiusKm {
			out = append(out, Nearby{ID: id, DistanceKm: km})
		}
	}
	location.SortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

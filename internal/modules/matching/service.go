// README: Matching service lists available riders near an order's pickup point.
package matching

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"dropoff/internal/modules/order"
	"dropoff/internal/modules/pricing"
	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

// Index is a searchable set of rider positions. Store and MemoryIndex
// implement it; both also satisfy rider.LocationIndex.
type Index interface {
	rider.LocationIndex
	Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error)
}

type Riders interface {
	Get(ctx context.Context, id types.ID) (*rider.Rider, error)
}

type Service struct {
	index  Index
	riders Riders
	cfg    Config
	log    *zap.Logger
}

func NewService(index Index, riders Riders, cfg Config, log *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.RadiusKm <= 0 {
		cfg.RadiusKm = def.RadiusKm
	}
	if cfg.ErrandRadiusKm <= 0 {
		cfg.ErrandRadiusKm = def.ErrandRadiusKm
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{index: index, riders: riders, cfg: cfg, log: log}
}

func (s *Service) radius(t pricing.OrderType) float64 {
	if t == pricing.TypeErrand {
		return s.cfg.ErrandRadiusKm
	}
	return s.cfg.RadiusKm
}

// Candidates returns ONLINE riders around the order's pickup point (the hub
// for errands), closest first. Index entries whose rider is gone or no longer
// online are skipped, and dropped from the index when the rider is gone.
func (s *Service) Candidates(ctx context.Context, o *order.Order) ([]Candidate, error) {
	hits, err := s.index.Nearby(ctx, o.Pickup, s.radius(o.Type), s.cfg.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		r, err := s.riders.Get(ctx, h.ID)
		if errors.Is(err, rider.ErrNotFound) {
			if err := s.index.Remove(ctx, h.ID); err != nil {
				s.log.Warn("drop stale rider from index failed", zap.String("rider_id", string(h.ID)), zap.Error(err))
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if !r.Available() {
			continue
		}
		out = append(out, Candidate{
			RiderID:    r.ID,
			Name:       r.Name,
			Phone:      r.Phone,
			Tier:       r.Incentives.Tier,
			Location:   r.Location,
			DistanceKm: types.RoundMoney(h.DistanceKm),
		})
	}
	return out, nil
}

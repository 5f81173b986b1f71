// README: Rider service handles registration, availability and position updates.
package rider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"dropoff/internal/clock"
	"dropoff/internal/types"
)

// LocationIndex keeps a searchable set of available riders. Implemented by
// the matching store; optional.
type LocationIndex interface {
	Upsert(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
}

type Service struct {
	repo  Repository
	index LocationIndex
	clock clock.Clock
	log   *zap.Logger
}

func NewService(repo Repository, index LocationIndex, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, index: index, clock: clk, log: log}
}

type RegisterCommand struct {
	Name  string
	Phone string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Rider, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrBadRequest)
	}
	now := s.clock.Now()
	r := &Rider{
		ID:         types.NewID(),
		Name:       strings.TrimSpace(cmd.Name),
		Phone:      strings.TrimSpace(cmd.Phone),
		Status:     StatusOffline,
		Incentives: IncentiveState{Tier: TierBronze},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Rider, error) {
	return s.repo.Get(ctx, id)
}

// SetStatus changes availability. Going ONLINE with a known position adds
// the rider to the index; any other status removes it.
func (s *Service) SetStatus(ctx context.Context, id types.ID, status Status) (*Rider, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrBadRequest, status)
	}
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Status = status
	r.UpdatedAt = s.clock.Now()
	if err := s.repo.Save(ctx, r, r.Version); err != nil {
		return nil, err
	}
	s.syncIndex(ctx, r)
	return r, nil
}

// UpdateLocation records the rider's position. p must already be validated.
func (s *Service) UpdateLocation(ctx context.Context, id types.ID, p types.Point) (*Rider, error) {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	r.Location = &p
	r.LocationUpdatedAt = &now
	r.UpdatedAt = now
	if err := s.repo.Save(ctx, r, r.Version); err != nil {
		return nil, err
	}
	s.syncIndex(ctx, r)
	return r, nil
}

// syncIndex is best effort; the stored rider stays the source of truth.
func (s *Service) syncIndex(ctx context.Context, r *Rider) {
	if s.index == nil {
		return
	}
	var err error
	if r.Available() && r.Location != nil {
		err = s.index.Upsert(ctx, r.ID, *r.Location)
	} else {
		err = s.index.Remove(ctx, r.ID)
	}
	if err != nil {
		s.log.Warn("rider index update failed", zap.String("rider_id", string(r.ID)), zap.Error(err))
	}
}

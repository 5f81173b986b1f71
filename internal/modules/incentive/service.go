// README: Incentive service applies awards and redemptions to a rider's ledger.
package incentive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dropoff/internal/clock"
	"dropoff/internal/modules/rider"
	"dropoff/internal/observability"
	"dropoff/internal/types"
)

// Service performs every ledger change as a read-modify-write guarded by
// the rider version. A lost race re-reads the rider and reapplies the
// change, up to Rules.MaxSaveAttempts times.
type Service struct {
	*Engine
	riders rider.Repository
	clock  clock.Clock
	log    *zap.Logger
}

func NewService(riders rider.Repository, engine *Engine, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{Engine: engine, riders: riders, clock: clk, log: log}
}

// AwardPoints credits points and re-evaluates the tier.
func (s *Service) AwardPoints(ctx context.Context, riderID types.ID, points int, reason string, orderRef *types.ID) (*rider.Rider, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoints, points)
	}
	r, err := s.mutate(ctx, riderID, func(r *rider.Rider, now time.Time) error {
		s.credit(r, points, reason, orderRef, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.PointsAwardedTotal.Add(float64(points))
	return r, nil
}

// AwardDelivery credits the points earned by a completed delivery.
func (s *Service) AwardDelivery(ctx context.Context, riderID, orderID types.ID, facts DeliveryFacts) (*rider.Rider, Award, error) {
	award := s.PointsForDelivery(facts)
	r, err := s.AwardPoints(ctx, riderID, award.Points, strings.Join(award.Reasons, ", "), &orderID)
	if err != nil {
		return nil, Award{}, err
	}
	return r, award, nil
}

// AwardRating credits the five star bonus, at most once per order. Other
// ratings award nothing and leave the rider untouched. Callers check that
// the order was delivered by riderID.
func (s *Service) AwardRating(ctx context.Context, riderID, orderID types.ID, rating int) (*rider.Rider, int, error) {
	if rating < 1 || rating > 5 {
		return nil, 0, fmt.Errorf("%w: rating %d", ErrInvalidPoints, rating)
	}
	points := s.RatingPoints(rating)
	if points == 0 {
		r, err := s.riders.Get(ctx, riderID)
		return r, 0, err
	}
	r, err := s.mutate(ctx, riderID, func(r *rider.Rider, now time.Time) error {
		if ratedOrder(r.Incentives.BonusHistory, orderID) {
			return fmt.Errorf("%w: %s", ErrAlreadyRated, orderID)
		}
		s.credit(r, points, ReasonFiveStar, &orderID, now)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	observability.PointsAwardedTotal.Add(float64(points))
	return r, points, nil
}

func ratedOrder(history []rider.LedgerEntry, orderID types.ID) bool {
	for _, e := range history {
		if e.Reason == ReasonFiveStar && e.OrderID != nil && *e.OrderID == orderID {
			return true
		}
	}
	return false
}

type Redemption struct {
	PointsRedeemed  int     `json:"pointsRedeemed"`
	CashValue       float64 `json:"cashValue"`
	RemainingPoints int     `json:"remainingPoints"`
}

// Redeem converts spendable points to cash. Lifetime points and the tier
// are not affected.
func (s *Service) Redeem(ctx context.Context, riderID types.ID, points int) (Redemption, error) {
	if points < s.rules.MinRedemption {
		return Redemption{}, fmt.Errorf("%w: minimum %d points required", ErrInsufficientPoints, s.rules.MinRedemption)
	}
	cash := s.CashValue(points)
	r, err := s.mutate(ctx, riderID, func(r *rider.Rider, now time.Time) error {
		if points > r.Incentives.CurrentPoints {
			return fmt.Errorf("%w: have %d, requested %d", ErrInsufficientBalance, r.Incentives.CurrentPoints, points)
		}
		r.Incentives.CurrentPoints -= points
		r.Incentives.BonusHistory = append(r.Incentives.BonusHistory, rider.LedgerEntry{
			Points: -points,
			Reason: fmt.Sprintf("Redeemed %d points for %s %.2f", points, types.Currency, cash),
			At:     now,
		})
		return nil
	})
	if err != nil {
		return Redemption{}, err
	}
	return Redemption{
		PointsRedeemed:  points,
		CashValue:       cash,
		RemainingPoints: r.Incentives.CurrentPoints,
	}, nil
}

type Summary struct {
	Tier             rider.Tier          `json:"tier"`
	CurrentPoints    int                 `json:"currentPoints"`
	LifetimePoints   int                 `json:"lifetimePoints"`
	TierBenefitPct   float64             `json:"tierBenefit"`
	NextTier         rider.Tier          `json:"nextTier,omitempty"`
	PointsToNextTier int                 `json:"pointsToNextTier"`
	NextTierProgress int                 `json:"nextTierProgress"`
	CashValue        float64             `json:"cashValue"`
	RecentBonuses    []rider.LedgerEntry `json:"recentBonuses"`
	Achievements     []rider.Achievement `json:"achievements"`
}

func (s *Service) Summary(ctx context.Context, riderID types.ID) (Summary, error) {
	r, err := s.riders.Get(ctx, riderID)
	if err != nil {
		return Summary{}, err
	}
	st := r.Incentives
	sum := Summary{
		Tier:           s.EvaluateTier(st.LifetimePoints),
		CurrentPoints:  st.CurrentPoints,
		LifetimePoints: st.LifetimePoints,
		CashValue:      s.CashValue(st.CurrentPoints),
		Achievements:   st.Achievements,
	}
	sum.TierBenefitPct = s.bonusPct(sum.Tier)
	next, toNext, pct, ok := s.progress(st.LifetimePoints)
	if ok {
		sum.NextTier = next.Tier
	}
	sum.PointsToNextTier = toNext
	sum.NextTierProgress = pct

	n := s.rules.RecentBonuses
	recent := make([]rider.LedgerEntry, 0, n)
	for i := len(st.BonusHistory) - 1; i >= 0 && len(recent) < n; i-- {
		recent = append(recent, st.BonusHistory[i])
	}
	sum.RecentBonuses = recent
	return sum, nil
}

func (s *Service) credit(r *rider.Rider, points int, reason string, orderRef *types.ID, now time.Time) {
	st := &r.Incentives
	st.CurrentPoints += points
	st.LifetimePoints += points
	st.BonusHistory = append(st.BonusHistory, rider.LedgerEntry{
		Points:  points,
		Reason:  reason,
		OrderID: orderRef,
		At:      now,
	})

	newTier := s.EvaluateTier(st.LifetimePoints)
	if newTier == st.Tier {
		return
	}
	upgraded := s.rank(newTier) > s.rank(st.Tier)
	st.Tier = newTier
	if !upgraded {
		return
	}
	st.Achievements = append(st.Achievements, rider.Achievement{
		Name:        fmt.Sprintf("%s Tier Achieved", newTier),
		Description: fmt.Sprintf("Reached %s tier with %d lifetime points", newTier, st.LifetimePoints),
		Icon:        "trophy",
		At:          now,
	})
	observability.TierUpgradesTotal.WithLabelValues(string(newTier)).Inc()
	s.log.Info("rider tier upgraded",
		zap.String("rider_id", string(r.ID)),
		zap.String("tier", string(newTier)),
		zap.Int("lifetime_points", st.LifetimePoints),
	)
}

func (s *Service) mutate(ctx context.Context, riderID types.ID, apply func(r *rider.Rider, now time.Time) error) (*rider.Rider, error) {
	for attempt := 1; ; attempt++ {
		r, err := s.riders.Get(ctx, riderID)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if err := apply(r, now); err != nil {
			return nil, err
		}
		r.UpdatedAt = now
		err = s.riders.Save(ctx, r, r.Version)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, rider.ErrConcurrentModification) || attempt >= s.rules.MaxSaveAttempts {
			return nil, err
		}
		s.log.Debug("rider ledger save conflict, retrying",
			zap.String("rider_id", string(riderID)),
			zap.Int("attempt", attempt),
		)
	}
}

// README: Pure incentive rules; points per delivery, tier thresholds and tier bonuses.
package incentive

import (
	"errors"
	"fmt"
	"math"
	"time"
	_ "time/tzdata"

	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

var (
	ErrInsufficientPoints  = errors.New("insufficient points for redemption")
	ErrInsufficientBalance = errors.New("insufficient points balance")
	ErrInvalidPoints       = errors.New("invalid points amount")
	ErrAlreadyRated        = errors.New("order already rated")
)

const (
	ReasonDelivery = "Delivery completed"
	ReasonExpress  = "Express delivery bonus"
	ReasonWeekend  = "Weekend delivery bonus"
	ReasonPeakHour = "Peak hour delivery bonus"
	ReasonFiveStar = "5-star rating bonus"
)

type PointValues struct {
	Delivery int `yaml:"delivery"`
	Express  int `yaml:"express"`
	FiveStar int `yaml:"fiveStar"`
	Weekend  int `yaml:"weekend"`
	PeakHour int `yaml:"peakHour"`
}

type TierLevel struct {
	Tier      rider.Tier `yaml:"tier"`
	MinPoints int        `yaml:"minPoints"`
	BonusPct  float64    `yaml:"bonusPct"`
}

type Rules struct {
	Points PointValues `yaml:"points"`
	// Tiers must be sorted by MinPoints, starting at 0.
	Tiers                 []TierLevel `yaml:"tiers"`
	PeakStartHour         int         `yaml:"peakStartHour"`
	PeakEndHour           int         `yaml:"peakEndHour"`
	PointsPerCurrencyUnit int         `yaml:"pointsPerCurrencyUnit"`
	MinRedemption         int         `yaml:"minRedemption"`
	Timezone              string      `yaml:"timezone"`
	MaxSaveAttempts       int         `yaml:"maxSaveAttempts"`
	RecentBonuses         int         `yaml:"recentBonuses"`
}

func DefaultRules() Rules {
	return Rules{
		Points: PointValues{Delivery: 10, Express: 15, FiveStar: 5, Weekend: 5, PeakHour: 5},
		Tiers: []TierLevel{
			{Tier: rider.TierBronze, MinPoints: 0, BonusPct: 0},
			{Tier: rider.TierSilver, MinPoints: 500, BonusPct: 5},
			{Tier: rider.TierGold, MinPoints: 1500, BonusPct: 10},
			{Tier: rider.TierPlatinum, MinPoints: 5000, BonusPct: 15},
		},
		PeakStartHour:         17,
		PeakEndHour:           21,
		PointsPerCurrencyUnit: 100,
		MinRedemption:         100,
		Timezone:              "Africa/Accra",
		MaxSaveAttempts:       5,
		RecentBonuses:         10,
	}
}

func (r Rules) Validate() error {
	var errs []error
	if len(r.Tiers) == 0 || r.Tiers[0].MinPoints != 0 {
		errs = append(errs, errors.New("tiers must start at 0 points"))
	}
	for i := 1; i < len(r.Tiers); i++ {
		if r.Tiers[i].MinPoints <= r.Tiers[i-1].MinPoints {
			errs = append(errs, fmt.Errorf("tier %s threshold must exceed %s", r.Tiers[i].Tier, r.Tiers[i-1].Tier))
		}
	}
	if r.PeakStartHour < 0 || r.PeakEndHour > 24 || r.PeakStartHour >= r.PeakEndHour {
		errs = append(errs, fmt.Errorf("peak window [%d, %d) is invalid", r.PeakStartHour, r.PeakEndHour))
	}
	if r.PointsPerCurrencyUnit <= 0 {
		errs = append(errs, errors.New("pointsPerCurrencyUnit must be positive"))
	}
	if r.MaxSaveAttempts <= 0 {
		errs = append(errs, errors.New("maxSaveAttempts must be positive"))
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", r.Timezone, err))
	}
	return errors.Join(errs...)
}

// Engine evaluates Rules in the configured local time zone.
type Engine struct {
	rules Rules
	loc   *time.Location
}

func NewEngine(rules Rules) (*Engine, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	loc, _ := time.LoadLocation(rules.Timezone)
	return &Engine{rules: rules, loc: loc}, nil
}

func (e *Engine) Rules() Rules { return e.rules }

type DeliveryFacts struct {
	Express     bool
	DeliveredAt time.Time
}

type Award struct {
	Points  int      `json:"points"`
	Reasons []string `json:"reasons"`
}

// PointsForDelivery stacks every bonus the delivery qualifies for.
func (e *Engine) PointsForDelivery(f DeliveryFacts) Award {
	p := e.rules.Points
	a := Award{Points: p.Delivery, Reasons: []string{ReasonDelivery}}
	if f.Express {
		a.Points += p.Express
		a.Reasons = append(a.Reasons, ReasonExpress)
	}
	local := f.DeliveredAt.In(e.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		a.Points += p.Weekend
		a.Reasons = append(a.Reasons, ReasonWeekend)
	}
	if h := local.Hour(); h >= e.rules.PeakStartHour && h < e.rules.PeakEndHour {
		a.Points += p.PeakHour
		a.Reasons = append(a.Reasons, ReasonPeakHour)
	}
	return a
}

// RatingPoints is non-zero only for a five star rating.
func (e *Engine) RatingPoints(rating int) int {
	if rating == 5 {
		return e.rules.Points.FiveStar
	}
	return 0
}

// EvaluateTier depends on lifetime points only.
func (e *Engine) EvaluateTier(lifetimePoints int) rider.Tier {
	return e.level(lifetimePoints).Tier
}

func (e *Engine) level(lifetimePoints int) TierLevel {
	current := e.rules.Tiers[0]
	for _, lvl := range e.rules.Tiers[1:] {
		if lifetimePoints < lvl.MinPoints {
			break
		}
		current = lvl
	}
	return current
}

type Bonus struct {
	Percentage float64 `json:"bonusPercentage"`
	Amount     float64 `json:"bonusAmount"`
	Total      float64 `json:"totalAmount"`
}

func (e *Engine) TierBonus(base float64, tier rider.Tier) Bonus {
	pct := e.bonusPct(tier)
	amount := types.RoundMoney(base * pct / 100)
	return Bonus{
		Percentage: pct,
		Amount:     amount,
		Total:      types.RoundMoney(base + amount),
	}
}

func (e *Engine) bonusPct(tier rider.Tier) float64 {
	for _, lvl := range e.rules.Tiers {
		if lvl.Tier == tier {
			return lvl.BonusPct
		}
	}
	return 0
}

// NextTier returns the following level, or false at the top.
func (e *Engine) NextTier(tier rider.Tier) (TierLevel, bool) {
	for i, lvl := range e.rules.Tiers {
		if lvl.Tier == tier && i+1 < len(e.rules.Tiers) {
			return e.rules.Tiers[i+1], true
		}
	}
	return TierLevel{}, false
}

func (e *Engine) rank(tier rider.Tier) int {
	for i, lvl := range e.rules.Tiers {
		if lvl.Tier == tier {
			return i
		}
	}
	return -1
}

// CashValue converts points at the configured rate.
func (e *Engine) CashValue(points int) float64 {
	return types.RoundMoney(float64(points) / float64(e.rules.PointsPerCurrencyUnit))
}

func (e *Engine) progress(lifetimePoints int) (next TierLevel, pointsToNext int, pct int, ok bool) {
	cur := e.level(lifetimePoints)
	next, ok = e.NextTier(cur.Tier)
	if !ok {
		return TierLevel{}, 0, 100, false
	}
	span := float64(next.MinPoints - cur.MinPoints)
	pct = int(math.Round(float64(lifetimePoints-cur.MinPoints) / span * 100))
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return next, next.MinPoints - lifetimePoints, pct, true
}

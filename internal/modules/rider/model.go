// README: Rider aggregate with availability, last known position and incentive ledger.
package rider

import (
	"errors"
	"time"

	"dropoff/internal/types"
)

var (
	ErrNotFound               = errors.New("rider not found")
	ErrConcurrentModification = errors.New("rider was modified concurrently")
	ErrBadRequest             = errors.New("bad request")
)

type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusOffline Status = "OFFLINE"
	StatusBusy    Status = "BUSY"
)

func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusOffline, StatusBusy:
		return true
	}
	return false
}

type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

type LedgerEntry struct {
	Points  int       `json:"points"`
	Reason  string    `json:"reason"`
	OrderID *types.ID `json:"orderId,omitempty"`
	At      time.Time `json:"at"`
}

type Achievement struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	At          time.Time `json:"at"`
}

// IncentiveState is mutated only by the incentive service.
type IncentiveState struct {
	CurrentPoints  int           `json:"currentPoints"`
	LifetimePoints int           `json:"lifetimePoints"`
	Tier           Tier          `json:"tier"`
	BonusHistory   []LedgerEntry `json:"bonusHistory"`
	Achievements   []Achievement `json:"achievements"`
}

type Rider struct {
	ID                types.ID       `json:"id"`
	Name              string         `json:"name"`
	Phone             string         `json:"phone"`
	Status            Status         `json:"status"`
	Location          *types.Point   `json:"location"`
	LocationUpdatedAt *time.Time     `json:"locationUpdatedAt,omitempty"`
	Incentives        IncentiveState `json:"incentives"`
	Version           int            `json:"version"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// Available reports whether the rider can take a new order.
func (r *Rider) Available() bool {
	return r.Status == StatusOnline
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *Rider) Clone() *Rider {
	c := *r
	if r.Location != nil {
		p := *r.Location
		c.Location = &p
	}
	if r.LocationUpdatedAt != nil {
		t := *r.LocationUpdatedAt
		c.LocationUpdatedAt = &t
	}
	c.Incentives.BonusHistory = append([]LedgerEntry(nil), r.Incentives.BonusHistory...)
	c.Incentives.Achievements = append([]Achievement(nil), r.Incentives.Achievements...)
	return &c
}

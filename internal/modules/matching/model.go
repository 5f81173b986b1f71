// README: Rider proximity candidates for an order.
package matching

import (
	"dropoff/internal/modules/rider"
	"dropoff/internal/types"
)

// Nearby is one index hit, closest first.
type Nearby struct {
	ID         types.ID
	DistanceKm float64
}

type Candidate struct {
	RiderID    types.ID     `json:"riderId"`
	Name       string       `json:"name"`
	Phone      string       `json:"phone"`
	Tier       rider.Tier   `json:"tier"`
	Location   *types.Point `json:"location"`
	DistanceKm float64      `json:"distanceKm"`
}

type Config struct {
	RadiusKm       float64 `yaml:"radiusKm"`
	ErrandRadiusKm float64 `yaml:"errandRadiusKm"`
	Limit          int     `yaml:"limit"`
}

func DefaultConfig() Config {
	return Config{RadiusKm: 3, ErrandRadiusKm: 5, Limit: 10}
}

// README: Travel time estimates; Google Maps Directions when configured, straight-line speed otherwise.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"dropoff/internal/types"
)

// DefaultAverageSpeedKmh is the rider speed assumed without a routing provider.
const DefaultAverageSpeedKmh = 30.0

const (
	SourceDirections = "directions"
	SourceStraight   = "haversine"
)

// RouteClient is the subset of *maps.Client used for estimates.
type RouteClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

type Estimate struct {
	DistanceKm float64       `json:"distanceKm"`
	Duration   time.Duration `json:"-"`
	Minutes    int           `json:"etaMinutes"`
	Source     string        `json:"source"`
}

type ETAService struct {
	routes     RouteClient
	averageKmh float64
	region     string
}

// NewETAService builds a maps client when apiKey is set. An empty key
// leaves the service on straight-line estimates.
func NewETAService(apiKey, region string, averageKmh float64) (*ETAService, error) {
	s := &ETAService{averageKmh: averageKmh, region: region}
	if s.averageKmh <= 0 {
		s.averageKmh = DefaultAverageSpeedKmh
	}
	if apiKey == "" {
		return s, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	s.routes = client
	return s, nil
}

// NewETAServiceWithClient is used by tests and callers that share a maps client.
func NewETAServiceWithClient(routes RouteClient, averageKmh float64) *ETAService {
	s, _ := NewETAService("", "", averageKmh)
	s.routes = routes
	return s
}

// Estimate returns the driving estimate between two points. A routing
// failure degrades to the straight-line estimate instead of failing.
func (s *ETAService) Estimate(ctx context.Context, from, to types.Point) (Estimate, error) {
	km, err := DistanceKm(from, to)
	if err != nil {
		return Estimate{}, err
	}
	if s.routes != nil {
		if est, err := s.directions(ctx, from, to); err == nil {
			return est, nil
		}
	}
	d := time.Duration(km / s.averageKmh * float64(time.Hour))
	return Estimate{
		DistanceKm: types.RoundKm(km),
		Duration:   d,
		Minutes:    minutes(d),
		Source:     SourceStraight,
	}, nil
}

func (s *ETAService) directions(ctx context.Context, from, to types.Point) (Estimate, error) {
	r := &maps.DirectionsRequest{
		Origin:      from.String(),
		Destination: to.String(),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}
	routes, _, err := s.routes.Directions(ctx, r)
	if err != nil {
		return Estimate{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Estimate{}, errors.New("no route found")
	}
	leg := routes[0].Legs[0]
	return Estimate{
		DistanceKm: types.RoundKm(float64(leg.Distance.Meters) / 1000),
		Duration:   leg.Duration,
		Minutes:    minutes(leg.Duration),
		Source:     SourceDirections,
	}, nil
}

func minutes(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 0 {
		return 0
	}
	return m
}

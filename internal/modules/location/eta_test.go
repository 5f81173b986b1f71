package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"dropoff/internal/types"
)

type stubRoutes struct {
	routes []maps.Route
	err    error
	calls  int
}

func (s *stubRoutes) Directions(_ context.Context, _ *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	s.calls++
	return s.routes, nil, s.err
}

var (
	accra = types.Point{Lat: 5.6037, Lng: -0.1870}
	tema  = types.Point{Lat: 5.6698, Lng: -0.0166}
)

func TestETA_StraightLineWithoutKey(t *testing.T) {
	svc, err := NewETAService("", "", 30)
	if err != nil {
		t.Fatalf("new eta service: %v", err)
	}
	est, err := svc.Estimate(context.Background(), accra, tema)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.Source != SourceStraight {
		t.Fatalf("source = %s, want %s", est.Source, SourceStraight)
	}
	// ~20.2 km at 30 km/h is ~40.5 minutes.
	if est.Minutes != 41 {
		t.Fatalf("minutes = %d, want 41", est.Minutes)
	}
}

func TestETA_UsesDirections(t *testing.T) {
	routes := &stubRoutes{routes: []maps.Route{{
		Legs: []*maps.Leg{{
			Distance: maps.Distance{Meters: 24300},
			Duration: 35 * time.Minute,
		}},
	}}}
	svc := NewETAServiceWithClient(routes, 30)
	est, err := svc.Estimate(context.Background(), accra, tema)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if est.Source != SourceDirections || est.Minutes != 35 || est.DistanceKm != 24.3 {
		t.Fatalf("unexpected estimate: %+v", est)
	}
}

func TestETA_FallsBackOnRouteError(t *testing.T) {
	routes := &stubRoutes{err: errors.New("quota exceeded")}
	svc := NewETAServiceWithClient(routes, 30)
	est, err := svc.Estimate(context.Background(), accra, tema)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if routes.calls != 1 {
		t.Fatalf("expected one directions call, got %d", routes.calls)
	}
	if est.Source != SourceStraight {
		t.Fatalf("source = %s, want fallback", est.Source)
	}
}

func TestETA_InvalidPoint(t *testing.T) {
	svc := NewETAServiceWithClient(nil, 0)
	if _, err := svc.Estimate(context.Background(), accra, types.Point{Lat: 100}); !errors.Is(err, ErrInvalidCoordinate) {
		t.Fatalf("err = %v, want ErrInvalidCoordinate", err)
	}
}

// README: Rider position index backed by Redis GEO.
package matching

import (
	"context"

	"github.com/redis/go-redis/v9"

	"dropoff/internal/types"
)

// RiderGeoKey is the sorted set holding ONLINE rider positions.
const RiderGeoKey = "matching:riders"

type Store struct {
	redis *redis.Client
	key   string
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis, key: RiderGeoKey}
}

func (s *Store) Upsert(ctx context.Context, id types.ID, p types.Point) error {
	return s.redis.GeoAdd(ctx, s.key, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (s *Store) Remove(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, s.key, string(id)).Err()
}

func (s *Store) Nearby(ctx context.Context, p types.Point, radiusKm float64, limit int) ([]Nearby, error) {
	results, err := s.redis.GeoSearchLocation(ctx, s.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  p.Lng,
			Latitude:   p.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{ID: types.ID(r.Name), DistanceKm: r.Dist}
	}
	return out, nil
}

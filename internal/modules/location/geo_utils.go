// README: Great-circle distance between validated points and distance ordering.
package location

import (
	"math"

	"dropoff/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between a and b.
// Both points are validated first; an invalid point yields ErrInvalidCoordinate.
func DistanceKm(a, b types.Point) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

// haversineKm works on decimal degrees and does no validation.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	sinLat := math.Sin((lat2 - lat1) * rad / 2)
	sinLng := math.Sin((lng2 - lng1) * rad / 2)
	h := sinLat*sinLat + math.Cos(lat1*rad)*math.Cos(lat2*rad)*sinLng*sinLng
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// SortByDistance orders items nearest first. Insertion sort keeps equal
// distances in their original order; candidate lists are short.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}

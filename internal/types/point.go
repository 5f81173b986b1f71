// README: Canonical coordinate value.
package types

import "fmt"

// Point is a validated WGS84 coordinate. Construct it through
// location.Normalize when the input shape is not already known.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

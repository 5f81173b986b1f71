// README: Coordinate normalization from the shapes clients send.
package location

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"dropoff/internal/types"
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// maxWrapperDepth bounds {"coordinates": {...}} nesting.
const maxWrapperDepth = 2

// Normalize converts any accepted coordinate shape into a validated Point:
//
//	[lng, lat]                       GeoJSON order
//	{"lat": .., "lng": ..}           also latitude/longitude and lon
//	{"coordinates": <pair|object>}   wrapper, GeoJSON Point included
//	types.Point, json.RawMessage
//
// Missing or non-numeric fields are errors; nothing defaults to zero.
func Normalize(v any) (types.Point, error) {
	return normalize(v, 0)
}

// Validate checks ranges and rejects NaN and infinities.
func Validate(p types.Point) error {
	if !finite(p.Lat) || !finite(p.Lng) {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCoordinate)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

func normalize(v any, depth int) (types.Point, error) {
	switch c := v.(type) {
	case nil:
		return types.Point{}, fmt.Errorf("%w: missing", ErrInvalidCoordinate)
	case types.Point:
		return c, Validate(c)
	case *types.Point:
		if c == nil {
			return types.Point{}, fmt.Errorf("%w: missing", ErrInvalidCoordinate)
		}
		return *c, Validate(*c)
	case json.RawMessage:
		return normalizeJSON(c, depth)
	case []byte:
		return normalizeJSON(c, depth)
	case [2]float64:
		return fromPair(c[0], c[1])
	case []float64:
		if len(c) != 2 {
			return types.Point{}, fmt.Errorf("%w: expected [lng, lat], got %d values", ErrInvalidCoordinate, len(c))
		}
		return fromPair(c[0], c[1])
	case []any:
		if len(c) != 2 {
			return types.Point{}, fmt.Errorf("%w: expected [lng, lat], got %d values", ErrInvalidCoordinate, len(c))
		}
		lng, ok := number(c[0])
		if !ok {
			return types.Point{}, fmt.Errorf("%w: longitude is not numeric", ErrInvalidCoordinate)
		}
		lat, ok := number(c[1])
		if !ok {
			return types.Point{}, fmt.Errorf("%w: latitude is not numeric", ErrInvalidCoordinate)
		}
		return fromPair(lng, lat)
	case map[string]any:
		return fromObject(c, depth)
	default:
		return types.Point{}, fmt.Errorf("%w: unsupported shape %T", ErrInvalidCoordinate, v)
	}
}

func normalizeJSON(raw []byte, depth int) (types.Point, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", ErrInvalidCoordinate, err)
	}
	return normalize(v, depth)
}

func fromObject(m map[string]any, depth int) (types.Point, error) {
	if inner, ok := m["coordinates"]; ok {
		if depth >= maxWrapperDepth {
			return types.Point{}, fmt.Errorf("%w: coordinates nested too deeply", ErrInvalidCoordinate)
		}
		return normalize(inner, depth+1)
	}
	lat, err := field(m, "latitude", "lat", "latitude")
	if err != nil {
		return types.Point{}, err
	}
	lng, err := field(m, "longitude", "lng", "lon", "longitude")
	if err != nil {
		return types.Point{}, err
	}
	p := types.Point{Lat: lat, Lng: lng}
	return p, Validate(p)
}

func field(m map[string]any, name string, keys ...string) (float64, error) {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok {
			continue
		}
		n, ok := number(raw)
		if !ok {
			return 0, fmt.Errorf("%w: %s is not numeric", ErrInvalidCoordinate, name)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %s is missing", ErrInvalidCoordinate, name)
}

func fromPair(lng, lat float64) (types.Point, error) {
	p := types.Point{Lat: lat, Lng: lng}
	return p, Validate(p)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

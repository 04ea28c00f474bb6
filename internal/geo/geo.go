package geo

import (
	"context"
	"fmt"
	"math"
	"time"
)

// EarthRadiusMiles is the mean Earth radius used for delivery distances.
const EarthRadiusMiles = 3958.8

// DefaultAcquireTimeout bounds how long a location lookup may block checkout.
const DefaultAcquireTimeout = 10 * time.Second

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether both coordinates are finite and in range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Haversine returns the great-circle distance between a and b in miles.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMiles * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// Candidate is a forward-geocoding search result.
type Candidate struct {
	Label string `json:"label"`
	Point Point  `json:"point"`
}

// Geocoder converts between coordinates and address text. Results are for
// display only; distance checks always use raw coordinates.
type Geocoder interface {
	Reverse(ctx context.Context, p Point) (string, error)
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Describe returns display text for p: the geocoder's address when one is
// available, otherwise the raw coordinates.
func Describe(ctx context.Context, g Geocoder, p Point) string {
	if g != nil {
		if addr, err := g.Reverse(ctx, p); err == nil && addr != "" {
			return addr
		}
	}
	return fmt.Sprintf("%.5f, %.5f", p.Lat, p.Lon)
}

// Locator reports the device's current position.
type Locator interface {
	Locate(ctx context.Context) (Point, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (Point, error)

func (f LocatorFunc) Locate(ctx context.Context) (Point, error) { return f(ctx) }

// Acquire asks loc for a position, waiting at most timeout. Any failure,
// timeout or invalid point yields ok=false: the location stays unset.
func Acquire(ctx context.Context, loc Locator, timeout time.Duration) (Point, bool) {
	if loc == nil {
		return Point{}, false
	}
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		p   Point
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := loc.Locate(ctx)
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil || !r.p.Valid() {
			return Point{}, false
		}
		return r.p, true
	case <-ctx.Done():
		return Point{}, false
	}
}

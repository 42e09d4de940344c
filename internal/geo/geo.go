package geo

import (
	"errors"
	"fmt"
	"math"
)

const earthRadiusMiles = 3958.8

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return fmt.Errorf("%w: NaN component", ErrInvalidCoordinate)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinate, c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// IsZero reports whether the coordinate was never set. Providers return 0,0
// for records without a geocode.
func (c Coordinate) IsZero() bool { return c.Latitude == 0 && c.Longitude == 0 }

// DistanceMiles returns the great-circle distance between a and b.
func DistanceMiles(a, b Coordinate) float64 {
	dLat := degreesToRadians(b.Latitude - a.Latitude)
	dLon := degreesToRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degreesToRadians(a.Latitude))*math.Cos(degreesToRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMiles * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

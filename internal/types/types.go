// README: Common value objects (IDs, coordinates, caller identity) used across modules.
package types

import (
	"fmt"

	"ridematch/internal/apperr"
)

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

func (p Point) String() string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

// Location is the wire form of a Point. Both fields are required; a missing
// field is reported instead of being read as zero.
type Location struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

var (
	ErrInvalidCoordinate = fmt.Errorf("%w: invalid coordinate", apperr.ErrInvalidArgument)
	ErrMissingCoordinate = fmt.Errorf("%w: location requires latitude and longitude", ErrInvalidCoordinate)
)

func (l Location) Point() (Point, error) {
	if l.Latitude == nil || l.Longitude == nil {
		return Point{}, ErrMissingCoordinate
	}
	return Point{Lat: *l.Latitude, Lng: *l.Longitude}, nil
}

func LocationOf(p Point) Location {
	lat, lng := p.Lat, p.Lng
	return Location{Latitude: &lat, Longitude: &lng}
}

// Caller is the authenticated identity on whose behalf an operation runs.
type Caller struct {
	UserID ID
	Staff  bool
}

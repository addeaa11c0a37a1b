// Package geo holds pure great-circle helpers used by scoring and validation.
package geo

import (
	"fmt"
	"math"

	"ridematch/internal/types"
)

const earthRadiusKm = 6371.0

var ErrInvalidCoordinate = types.ErrInvalidCoordinate

// Validate rejects non-finite values and out-of-range latitude/longitude.
func Validate(p types.Point) error {
	if !finite(p.Lat) || !finite(p.Lng) {
		return fmt.Errorf("%w: non-finite value in %s", ErrInvalidCoordinate, p)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// DistanceKm returns the haversine distance between a and b in kilometres.
func DistanceKm(a, b types.Point) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package geo

import "math"

const earthRadiusMeters = 6371000.0

// Coordinate is an immutable WGS-84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsValid reports whether the coordinate lies within WGS-84 bounds.
func (c Coordinate) IsValid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// DistanceMeters returns the great-circle distance to other using the
// haversine formula over a spherical-earth approximation. The error is
// negligible at the radii used for matching and geofencing.
func (c Coordinate) DistanceMeters(other Coordinate) float64 {
	dLat := degreesToRadians(other.Latitude - c.Latitude)
	dLng := degreesToRadians(other.Longitude - c.Longitude)

	lat1 := degreesToRadians(c.Latitude)
	lat2 := degreesToRadians(other.Latitude)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLng/2)*math.Sin(dLng/2)*math.Cos(lat1)*math.Cos(lat2)
	h := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * h
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

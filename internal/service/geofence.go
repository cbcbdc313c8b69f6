package service

import "github.com/noah-isme/sma-attendance-api/pkg/geo"

// DefaultGeofenceRadiusMeters applies when no radius is configured.
const DefaultGeofenceRadiusMeters = 100.0

// GeofenceResult is the outcome of a location check.
type GeofenceResult struct {
	Verified       bool
	DistanceMeters float64
}

// GeofenceValidator decides whether a submitted point lies within the radius of a building.
type GeofenceValidator struct {
	radius   float64
	distance func(a, b geo.Point) float64
}

// NewGeofenceValidator builds a validator using haversine distance.
func NewGeofenceValidator(radiusMeters float64) *GeofenceValidator {
	if radiusMeters <= 0 {
		radiusMeters = DefaultGeofenceRadiusMeters
	}
	return &GeofenceValidator{radius: radiusMeters, distance: geo.Distance}
}

// Radius returns the configured threshold in meters.
func (g *GeofenceValidator) Radius() float64 {
	return g.radius
}

// Check measures submitted against building. The boundary is inclusive.
func (g *GeofenceValidator) Check(submitted, building geo.Point) GeofenceResult {
	d := g.distance(submitted, building)
	return GeofenceResult{Verified: d <= g.radius, DistanceMeters: d}
}

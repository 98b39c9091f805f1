// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"math"
)

// GeoPoint is a geographic coordinate in EPSG:4326.
type GeoPoint struct {
	Lon float64
	Lat float64
}

// Validate rejects non-finite and out-of-range coordinates.
func (p GeoPoint) Validate() error {
	switch {
	case math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0):
		return &ValidationError{Field: "latitude", Reason: "must be a finite number"}
	case math.IsNaN(p.Lon) || math.IsInf(p.Lon, 0):
		return &ValidationError{Field: "longitude", Reason: "must be a finite number"}
	case p.Lat < -90 || p.Lat > 90:
		return &ValidationError{Field: "latitude", Reason: fmt.Sprintf("%v is outside [-90, 90]", p.Lat)}
	case p.Lon < -180 || p.Lon > 180:
		return &ValidationError{Field: "longitude", Reason: fmt.Sprintf("%v is outside [-180, 180]", p.Lon)}
	}
	return nil
}

// String renders the point as (lon, lat).
func (p GeoPoint) String() string {
	return fmt.Sprintf("(%v, %v)", p.Lon, p.Lat)
}

// FeatureVector is the model output for one point.
type FeatureVector []float64

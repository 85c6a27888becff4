package domain

import "github.com/ctessum/geom"

// Neighborhood is a named polygon from the neighbourhood layer.
type Neighborhood struct {
	Name     string
	Geometry geom.Polygonal
}

// SamplePoint is a road-network node used to sample the elevation raster.
type SamplePoint struct {
	ID string
	X  float64
	Y  float64
}

// ElevationSample is one raster reading attributed to a neighbourhood.
type ElevationSample struct {
	PointID      string
	Neighborhood string
	Elevation    float64
}

// ElevationIndex maps a neighbourhood name to its mean valid elevation in metres.
// A missing name means no elevation data, not elevation zero.
type ElevationIndex map[string]float64

// Lookup returns the elevation for name and whether the index has one.
func (idx ElevationIndex) Lookup(name string) (float64, bool) {
	v, ok := idx[name]
	return v, ok
}

package geo

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// PolygonLayer is a neighbourhood layer as read from disk. CRS is zero when the
// file did not declare one.
type PolygonLayer struct {
	CRS           CRS
	Neighborhoods []domain.Neighborhood
	// Duplicates lists names seen more than once; the first occurrence is kept.
	Duplicates []string
	// Skipped counts features without a name or without polygonal geometry.
	Skipped int
}

// PointLayer is a set of road-network nodes as read from disk.
type PointLayer struct {
	CRS    CRS
	Points []domain.SamplePoint
	// Skipped counts nodes without usable coordinates.
	Skipped int
}

// Normalizer reprojects vector layers into one metric target CRS.
type Normalizer struct {
	Target CRS
	// Default is used for layers that declare no CRS.
	Default CRS
}

// NewNormalizer returns a Normalizer targeting target with WGS84 as the default
// source CRS.
func NewNormalizer(target CRS) *Normalizer {
	return &Normalizer{Target: target, Default: WGS84}
}

func (n *Normalizer) source(c CRS) CRS {
	if c.IsZero() {
		return n.Default
	}
	return c
}

// Polygons reprojects every neighbourhood geometry into the target CRS. Names and
// load order are preserved.
func (n *Normalizer) Polygons(layer PolygonLayer) ([]domain.Neighborhood, error) {
	ct, err := n.source(layer.CRS).Transformer(n.Target)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Neighborhood, len(layer.Neighborhoods))
	for i, nb := range layer.Neighborhoods {
		out[i] = nb
		if ct == nil {
			continue
		}
		g, err := nb.Geometry.Transform(ct)
		if err != nil {
			return nil, fmt.Errorf("reproject %q: %w", nb.Name, err)
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("reproject %q: got %T, want polygonal", nb.Name, g)
		}
		out[i].Geometry = poly
	}
	return out, nil
}

// Points reprojects every sample point into the target CRS.
func (n *Normalizer) Points(layer PointLayer) ([]domain.SamplePoint, error) {
	ct, err := n.source(layer.CRS).Transformer(n.Target)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SamplePoint, len(layer.Points))
	copy(out, layer.Points)
	if ct == nil {
		return out, nil
	}
	for i := range out {
		x, y, err := ct(out[i].X, out[i].Y)
		if err != nil {
			return nil, fmt.Errorf("reproject point %s: %w", out[i].ID, err)
		}
		out[i].X, out[i].Y = x, y
	}
	return out, nil
}

// Point reprojects a single coordinate from src into the target CRS.
func (n *Normalizer) Point(src CRS, x, y float64) (float64, float64, error) {
	ct, err := n.source(src).Transformer(n.Target)
	if err != nil {
		return 0, 0, err
	}
	if ct == nil {
		return x, y, nil
	}
	return ct(x, y)
}

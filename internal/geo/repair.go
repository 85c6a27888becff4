package geo

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/twpayne/go-geos"
)

// Repair returns a valid version of poly. Rings that self-intersect or are
// wound inconsistently are rebuilt with GEOS MakeValid; collapsed parts are
// discarded. The second return value reports whether anything changed.
func Repair(poly geom.Polygonal) (geom.Polygonal, bool, error) {
	b, err := wkb.Marshal(ToOrb(poly))
	if err != nil {
		return nil, false, fmt.Errorf("encode polygon: %w", err)
	}
	g, err := geos.NewGeomFromWKB(b)
	if err != nil {
		return nil, false, fmt.Errorf("load polygon into GEOS: %w", err)
	}
	if g.IsValid() {
		return poly, false, nil
	}

	fixed := g.MakeValidWithParams(geos.MakeValidStructure, geos.MakeValidDiscardCollapsed)
	og, err := wkb.Unmarshal(fixed.ToWKB())
	if err != nil {
		return nil, false, fmt.Errorf("decode repaired polygon: %w", err)
	}
	out := FromOrb(og)
	if out == nil {
		return nil, false, fmt.Errorf("repair left no polygonal area: %s", g.IsValidReason())
	}
	return out, true, nil
}

// InvalidReason returns GEOS' explanation of why poly is invalid, or "" when valid.
func InvalidReason(poly geom.Polygonal) string {
	b, err := wkb.Marshal(ToOrb(poly))
	if err != nil {
		return err.Error()
	}
	g, err := geos.NewGeomFromWKB(b)
	if err != nil {
		return err.Error()
	}
	if g.IsValid() {
		return ""
	}
	return g.IsValidReason()
}

// ToOrb converts a ctessum polygonal into an orb MultiPolygon. Rings are closed
// if the source left them open.
func ToOrb(poly geom.Polygonal) orb.MultiPolygon {
	polys := poly.Polygons()
	mp := make(orb.MultiPolygon, 0, len(polys))
	for _, p := range polys {
		op := make(orb.Polygon, 0, len(p))
		for _, path := range p {
			if len(path) == 0 {
				continue
			}
			ring := make(orb.Ring, 0, len(path)+1)
			for _, pt := range path {
				ring = append(ring, orb.Point{pt.X, pt.Y})
			}
			if !ring[0].Equal(ring[len(ring)-1]) {
				ring = append(ring, ring[0])
			}
			op = append(op, ring)
		}
		if len(op) > 0 {
			mp = append(mp, op)
		}
	}
	return mp
}

// FromOrb converts polygonal orb geometries (Polygon, MultiPolygon, or a
// Collection holding them) into ctessum geometry. Non-polygonal input yields nil.
func FromOrb(g orb.Geometry) geom.Polygonal {
	var out geom.MultiPolygon
	var walk func(orb.Geometry)
	walk = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Polygon:
			out = append(out, polygonFromOrb(v))
		case orb.MultiPolygon:
			for _, p := range v {
				out = append(out, polygonFromOrb(p))
			}
		case orb.Collection:
			for _, c := range v {
				walk(c)
			}
		}
	}
	walk(g)

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

func polygonFromOrb(p orb.Polygon) geom.Polygon {
	poly := make(geom.Polygon, 0, len(p))
	for _, ring := range p {
		path := make(geom.Path, 0, len(ring))
		for _, pt := range ring {
			path = append(path, geom.Point{X: pt[0], Y: pt[1]})
		}
		poly = append(poly, path)
	}
	return poly
}

package geodata

import (
	"fmt"
	"os"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
)

// LoadPolygons reads the neighbourhood layer at path. nameField is the feature
// property holding the neighbourhood name. Features keep file order; repeated
// names are reported and only their first occurrence is kept.
func LoadPolygons(path, nameField string) (geo.PolygonLayer, error) {
	if err := checkFile(path); err != nil {
		return geo.PolygonLayer{}, err
	}
	if isShapefile(path) {
		return loadShapefile(path, nameField)
	}
	return loadGeoJSONPolygons(path, nameField)
}

type layerBuilder struct {
	layer geo.PolygonLayer
	seen  map[string]bool
}

func newLayerBuilder(crs geo.CRS) *layerBuilder {
	return &layerBuilder{layer: geo.PolygonLayer{CRS: crs}, seen: make(map[string]bool)}
}

func (b *layerBuilder) add(name string, poly geom.Polygonal) {
	if name == "" || poly == nil || len(poly.Polygons()) == 0 {
		b.layer.Skipped++
		return
	}
	if b.seen[name] {
		b.layer.Duplicates = append(b.layer.Duplicates, name)
		return
	}
	b.seen[name] = true
	b.layer.Neighborhoods = append(b.layer.Neighborhoods, domain.Neighborhood{Name: name, Geometry: poly})
}

func loadGeoJSONPolygons(path, nameField string) (geo.PolygonLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return geo.PolygonLayer{}, fmt.Errorf("read %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return geo.PolygonLayer{}, fmt.Errorf("decode %s: %w", path, err)
	}
	crs, err := geojsonCRS(data)
	if err != nil {
		return geo.PolygonLayer{}, fmt.Errorf("%s: %w", path, err)
	}

	b := newLayerBuilder(crs)
	for _, f := range fc.Features {
		b.add(propString(f.Properties, nameField), geo.FromOrb(f.Geometry))
	}
	return b.layer, nil
}

func loadShapefile(path, nameField string) (geo.PolygonLayer, error) {
	crs, _, err := geo.SidecarCRS(path)
	if err != nil {
		return geo.PolygonLayer{}, err
	}
	d, err := shp.NewDecoder(path)
	if err != nil {
		return geo.PolygonLayer{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer d.Close()

	b := newLayerBuilder(crs)
	for {
		g, fields, more := d.DecodeRowFields(nameField)
		if !more {
			break
		}
		poly, _ := g.(geom.Polygonal)
		b.add(cleanField(fields[nameField]), poly)
	}
	if err := d.Error(); err != nil {
		return geo.PolygonLayer{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return b.layer, nil
}

func propString(props geojson.Properties, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// cleanField strips the NUL and space padding of dBase string fields.
func cleanField(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

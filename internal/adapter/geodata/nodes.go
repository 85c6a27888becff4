package geodata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
)

// LoadNodes reads road-network nodes from a GraphML graph export or a GeoJSON
// FeatureCollection of points. Nodes without parseable coordinates are skipped.
func LoadNodes(path string) (geo.PointLayer, error) {
	if err := checkFile(path); err != nil {
		return geo.PointLayer{}, err
	}
	if isGraphML(path) {
		f, err := os.Open(path)
		if err != nil {
			return geo.PointLayer{}, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		layer, err := decodeGraphML(f)
		if err != nil {
			return geo.PointLayer{}, fmt.Errorf("decode %s: %w", path, err)
		}
		return layer, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return geo.PointLayer{}, fmt.Errorf("read %s: %w", path, err)
	}
	layer, err := decodeGeoJSONNodes(data)
	if err != nil {
		return geo.PointLayer{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return layer, nil
}

type graphmlKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type graphmlNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphmlData `xml:"data"`
}

// decodeGraphML streams a GraphML document. Node coordinates come from the
// attributes named "x" and "y"; the graph-level "crs" attribute, when present,
// declares their CRS. Edges are skipped.
func decodeGraphML(r io.Reader) (geo.PointLayer, error) {
	var (
		layer      geo.PointLayer
		xKey, yKey string
		crsKey     string
		sawGraph   bool
		dec        = xml.NewDecoder(r)
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return geo.PointLayer{}, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "key":
			var k graphmlKey
			if err := dec.DecodeElement(&k, &se); err != nil {
				return geo.PointLayer{}, err
			}
			switch {
			case k.For == "node" && k.Name == "x":
				xKey = k.ID
			case k.For == "node" && k.Name == "y":
				yKey = k.ID
			case k.For == "graph" && k.Name == "crs":
				crsKey = k.ID
			}
		case "graph":
			sawGraph = true
		case "data":
			// Node data is consumed with its node, so this is graph-level.
			var d graphmlData
			if err := dec.DecodeElement(&d, &se); err != nil {
				return geo.PointLayer{}, err
			}
			if d.Key == crsKey && crsKey != "" {
				c, err := geo.ParseCRS(strings.TrimSpace(d.Value))
				if err != nil {
					return geo.PointLayer{}, fmt.Errorf("graph crs: %w", err)
				}
				layer.CRS = c
			}
		case "node":
			var n graphmlNode
			if err := dec.DecodeElement(&n, &se); err != nil {
				return geo.PointLayer{}, err
			}
			p, ok := graphmlPoint(n, xKey, yKey)
			if !ok {
				layer.Skipped++
				continue
			}
			layer.Points = append(layer.Points, p)
		case "edge":
			if err := dec.Skip(); err != nil {
				return geo.PointLayer{}, err
			}
		}
	}
	if !sawGraph {
		return geo.PointLayer{}, fmt.Errorf("no <graph> element")
	}
	return layer, nil
}

func graphmlPoint(n graphmlNode, xKey, yKey string) (domain.SamplePoint, bool) {
	if xKey == "" || yKey == "" {
		return domain.SamplePoint{}, false
	}
	var x, y float64
	var hasX, hasY bool
	for _, d := range n.Data {
		switch d.Key {
		case xKey:
			v, err := strconv.ParseFloat(strings.TrimSpace(d.Value), 64)
			x, hasX = v, err == nil
		case yKey:
			v, err := strconv.ParseFloat(strings.TrimSpace(d.Value), 64)
			y, hasY = v, err == nil
		}
	}
	if !hasX || !hasY {
		return domain.SamplePoint{}, false
	}
	return domain.SamplePoint{ID: n.ID, X: x, Y: y}, true
}

func decodeGeoJSONNodes(data []byte) (geo.PointLayer, error) {
	if !gjson.ValidBytes(data) {
		return geo.PointLayer{}, fmt.Errorf("invalid JSON")
	}
	features := gjson.GetBytes(data, "features")
	if !features.IsArray() {
		return geo.PointLayer{}, fmt.Errorf("not a FeatureCollection")
	}
	crs, err := geojsonCRS(data)
	if err != nil {
		return geo.PointLayer{}, err
	}

	layer := geo.PointLayer{CRS: crs}
	i := 0
	features.ForEach(func(_, f gjson.Result) bool {
		i++
		coords := f.Get("geometry.coordinates")
		if f.Get("geometry.type").String() != "Point" || len(coords.Array()) < 2 {
			layer.Skipped++
			return true
		}
		id := f.Get("properties.osmid").String()
		if id == "" {
			id = f.Get("id").String()
		}
		if id == "" {
			id = strconv.Itoa(i)
		}
		layer.Points = append(layer.Points, domain.SamplePoint{
			ID: id,
			X:  coords.Get("0").Float(),
			Y:  coords.Get("1").Float(),
		})
		return true
	})
	return layer, nil
}

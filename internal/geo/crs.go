// Package geo reprojects vector layers into one metric CRS and attributes points
// to the neighbourhood polygon containing them.
package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
)

// CRS is a coordinate reference system identified by name and backed by a proj4
// definition.
type CRS struct {
	Name  string
	Proj4 string
}

// WGS84 is the GeoJSON default and the fallback for layers that do not declare a CRS.
var WGS84 = CRS{Name: "EPSG:4326", Proj4: "+proj=longlat +datum=WGS84 +no_defs"}

var knownEPSG = map[int]string{
	4326:  WGS84.Proj4,
	4674:  "+proj=longlat +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +no_defs",
	3857:  "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +no_defs",
	31982: "+proj=utm +zone=22 +south +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	31983: "+proj=utm +zone=23 +south +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	32722: "+proj=utm +zone=22 +south +datum=WGS84 +units=m +no_defs",
	32723: "+proj=utm +zone=23 +south +datum=WGS84 +units=m +no_defs",
}

// ParseCRS resolves a CRS declaration as found in configuration or in a GeoJSON
// "crs" member. Accepted forms: "EPSG:31982", "urn:ogc:def:crs:EPSG::4674",
// "urn:ogc:def:crs:OGC:1.3:CRS84" and raw "+proj=..." strings.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, fmt.Errorf("empty CRS declaration")
	}
	if strings.HasPrefix(s, "+proj=") {
		if _, err := proj.Parse(s); err != nil {
			return CRS{}, fmt.Errorf("parse proj4 %q: %w", s, err)
		}
		return CRS{Name: s, Proj4: s}, nil
	}

	upper := strings.ToUpper(s)
	if strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}

	var code string
	switch {
	case strings.HasPrefix(upper, "EPSG:"):
		code = upper[len("EPSG:"):]
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		code = upper[strings.LastIndex(upper, ":")+1:]
	default:
		return CRS{}, fmt.Errorf("unsupported CRS declaration %q", s)
	}

	n, err := strconv.Atoi(code)
	if err != nil {
		return CRS{}, fmt.Errorf("invalid EPSG code in %q: %w", s, err)
	}
	p4, ok := knownEPSG[n]
	if !ok {
		return CRS{}, fmt.Errorf("unsupported EPSG code %d", n)
	}
	return CRS{Name: "EPSG:" + strconv.Itoa(n), Proj4: p4}, nil
}

// UTM builds a SIRGAS 2000 / UTM definition for the given zone.
func UTM(zone int, south bool) CRS {
	hemi := "N"
	p4 := fmt.Sprintf("+proj=utm +zone=%d", zone)
	if south {
		hemi = "S"
		p4 += " +south"
	}
	p4 += " +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs"
	return CRS{Name: fmt.Sprintf("UTM %d%s", zone, hemi), Proj4: p4}
}

// IsZero reports whether the CRS is unset.
func (c CRS) IsZero() bool { return c.Proj4 == "" }

// Same reports whether two CRSs have the same definition.
func (c CRS) Same(o CRS) bool { return c.Proj4 == o.Proj4 }

func (c CRS) String() string { return c.Name }

// Transformer returns the coordinate transform from c to dst, or nil when the
// two are the same.
func (c CRS) Transformer(dst CRS) (proj.Transformer, error) {
	if c.Same(dst) {
		return nil, nil
	}
	src, err := proj.Parse(c.Proj4)
	if err != nil {
		return nil, fmt.Errorf("parse source CRS %s: %w", c, err)
	}
	to, err := proj.Parse(dst.Proj4)
	if err != nil {
		return nil, fmt.Errorf("parse target CRS %s: %w", dst, err)
	}
	ct, err := src.NewTransform(to)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", c, dst, err)
	}
	return ct, nil
}

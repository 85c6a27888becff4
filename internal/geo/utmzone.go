package geo

import (
	"strings"

	utm "github.com/im7mortal/UTM"
)

// ZoneReport describes the UTM zone that the data itself falls in.
type ZoneReport struct {
	Zone   int
	Letter string
	South  bool
	// Match is true when the data zone and hemisphere equal the configured target.
	Match bool
}

// IsGeographic reports whether c uses lon/lat coordinates.
func (c CRS) IsGeographic() bool {
	return strings.Contains(c.Proj4, "+proj=longlat")
}

// CheckUTMZone computes the natural UTM zone of a geographic point layer from the
// mean of its coordinates and compares it with the target. ok is false when the
// layer is empty, not geographic, or outside UTM latitudes.
func CheckUTMZone(layer PointLayer, zone int, south bool) (ZoneReport, bool) {
	src := layer.CRS
	if src.IsZero() {
		src = WGS84
	}
	if !src.IsGeographic() || len(layer.Points) == 0 {
		return ZoneReport{}, false
	}

	var lon, lat float64
	for _, p := range layer.Points {
		lon += p.X
		lat += p.Y
	}
	lon /= float64(len(layer.Points))
	lat /= float64(len(layer.Points))

	_, _, z, letter, err := utm.FromLatLon(lat, lon, lat >= 0)
	if err != nil {
		return ZoneReport{}, false
	}
	r := ZoneReport{Zone: z, Letter: letter, South: lat < 0}
	r.Match = r.Zone == zone && r.South == south
	return r, true
}

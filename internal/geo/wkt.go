package geo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	authorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	utmZoneRe   = regexp.MustCompile(`(?i)UTM[ _]zone[ _](\d{1,2})([NS])`)
)

// ParseWKT resolves the CRS declared in an ESRI .prj sidecar (OGC WKT 1). The
// outermost EPSG authority wins; ESRI files usually carry none, so projected
// UTM names and bare geographic systems are recognised as well.
func ParseWKT(wkt string) (CRS, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return CRS{}, fmt.Errorf("empty WKT")
	}

	if m := authorityRe.FindAllStringSubmatch(wkt, -1); len(m) > 0 {
		// The root authority is the last one in the string.
		if c, err := ParseCRS("EPSG:" + m[len(m)-1][1]); err == nil {
			return c, nil
		}
	}

	upper := strings.ToUpper(wkt)
	if strings.HasPrefix(upper, "PROJCS") {
		m := utmZoneRe.FindStringSubmatch(wkt)
		if m == nil {
			return CRS{}, fmt.Errorf("unsupported projected CRS in WKT")
		}
		zone, err := strconv.Atoi(m[1])
		if err != nil {
			return CRS{}, fmt.Errorf("invalid UTM zone in WKT: %w", err)
		}
		south := strings.EqualFold(m[2], "S")
		if strings.Contains(upper, "SIRGAS") {
			return UTM(zone, south), nil
		}
		c := UTM(zone, south)
		c.Proj4 = strings.Replace(c.Proj4, "+ellps=GRS80 +towgs84=0,0,0,0,0,0,0", "+datum=WGS84", 1)
		return c, nil
	}

	if strings.HasPrefix(upper, "GEOGCS") {
		if strings.Contains(upper, "SIRGAS") {
			return ParseCRS("EPSG:4674")
		}
		return WGS84, nil
	}
	return CRS{}, fmt.Errorf("unrecognised WKT")
}

// SidecarCRS reads the ESRI .prj next to path. found is false when there is no
// sidecar; a sidecar that cannot be parsed is reported as found with an error.
func SidecarCRS(path string) (c CRS, found bool, err error) {
	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	data, err := os.ReadFile(prj)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CRS{}, false, nil
		}
		return CRS{}, false, fmt.Errorf("read %s: %w", prj, err)
	}
	c, err = ParseWKT(string(data))
	if err != nil {
		return CRS{}, true, fmt.Errorf("parse %s: %w", prj, err)
	}
	return c, true, nil
}

// Package geodata reads the vector layers of the pipeline: neighbourhood polygons
// (GeoJSON or ESRI shapefile) and road-network nodes (GraphML or GeoJSON points).
package geodata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
)

// checkFile maps a missing path onto domain.ErrMissingFile.
func checkFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrMissingFile, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	return nil
}

// geojsonCRS reads the legacy GeoJSON "crs" member. A zero CRS means none was declared.
func geojsonCRS(data []byte) (geo.CRS, error) {
	name := gjson.GetBytes(data, "crs.properties.name")
	if !name.Exists() || name.String() == "" {
		return geo.CRS{}, nil
	}
	return geo.ParseCRS(name.String())
}

func isShapefile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".shp")
}

func isGraphML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".graphml")
}

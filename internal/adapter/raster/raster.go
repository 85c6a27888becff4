// Package raster reads single-band elevation grids and samples them at points.
//
// Two formats are supported: ESRI ASCII grid (.asc) and ESRI BIL (.bil with a
// .hdr header). GeoTIFF DEMs must be converted first, for example with
// `gdal_translate -of AAIGrid relevo.tif relevo.asc`.
//
// Rasters are never reprojected. A .prj sidecar declares the CRS; without one the
// caller decides whether to assume the pipeline's target CRS.
package raster

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
)

// Grid is a north-up raster held in memory, row 0 at the top.
type Grid struct {
	Path  string
	NCols int
	NRows int
	// XMin and YMax are the outer edges of the upper-left cell.
	XMin  float64
	YMax  float64
	CellW float64
	CellH float64

	noData    float64
	hasNoData bool
	values    []float64

	crs      geo.CRS
	declared bool
}

// Open reads the raster at path. The format is chosen by extension.
func Open(path string) (*Grid, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrMissingFile, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	var (
		g   *Grid
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		g, err = readASCII(path)
	case ".bil":
		g, err = readBIL(path)
	default:
		return nil, fmt.Errorf("unsupported raster format %q (want .asc or .bil)", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g.Path = path

	crs, found, err := geo.SidecarCRS(path)
	g.declared = found
	if err == nil {
		g.crs = crs
	}
	return g, nil
}

func (g *Grid) validate() error {
	if g.NCols <= 0 || g.NRows <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", g.NCols, g.NRows)
	}
	if g.CellW <= 0 || g.CellH <= 0 {
		return fmt.Errorf("invalid cell size %gx%g", g.CellW, g.CellH)
	}
	if len(g.values) != g.NCols*g.NRows {
		return fmt.Errorf("got %d values, want %d", len(g.values), g.NCols*g.NRows)
	}
	return nil
}

// HasCRS reports whether the raster declares its CRS with a .prj sidecar.
func (g *Grid) HasCRS() bool { return g.declared }

// CRS returns the declared CRS. It is zero when undeclared or unparseable.
func (g *Grid) CRS() geo.CRS { return g.crs }

// Bounds returns the outer extent of the grid.
func (g *Grid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.XMin, Y: g.YMax - float64(g.NRows)*g.CellH},
		Max: geom.Point{X: g.XMin + float64(g.NCols)*g.CellW, Y: g.YMax},
	}
}

// Sample returns the value of the cell containing (x, y). Points outside the grid
// and nodata cells yield NaN.
func (g *Grid) Sample(x, y float64) float64 {
	if g == nil {
		return math.NaN()
	}
	col := math.Floor((x - g.XMin) / g.CellW)
	row := math.Floor((g.YMax - y) / g.CellH)
	if col < 0 || row < 0 || col >= float64(g.NCols) || row >= float64(g.NRows) {
		return math.NaN()
	}
	v := g.values[int(row)*g.NCols+int(col)]
	if g.hasNoData && v == g.noData {
		return math.NaN()
	}
	return v
}

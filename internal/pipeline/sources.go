package pipeline

import (
	"context"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/geodata"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/raster"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
)

// PolygonLoader reads the neighbourhood layer.
type PolygonLoader interface {
	LoadPolygons(ctx context.Context) (geo.PolygonLayer, error)
}

// NodeLoader reads the road-network nodes used as sample points.
type NodeLoader interface {
	LoadNodes(ctx context.Context) (geo.PointLayer, error)
}

// Sampler reads an elevation raster at target-CRS coordinates.
type Sampler interface {
	Sample(x, y float64) float64
	HasCRS() bool
	// CRS is zero when the raster declares none or the declaration is unreadable.
	CRS() geo.CRS
}

// RasterLoader opens the elevation raster.
type RasterLoader interface {
	LoadRaster(ctx context.Context) (Sampler, error)
}

// Files loads every layer from local dataset files. A non-zero CRS override
// replaces whatever the file declares.
type Files struct {
	NeighborhoodsPath     string
	NeighborhoodNameField string
	NeighborhoodsCRS      geo.CRS
	RoadNetworkPath       string
	RoadNetworkCRS        geo.CRS
	ElevationRasterPath   string
}

func (f Files) LoadPolygons(_ context.Context) (geo.PolygonLayer, error) {
	layer, err := geodata.LoadPolygons(f.NeighborhoodsPath, f.NeighborhoodNameField)
	if err != nil {
		return geo.PolygonLayer{}, err
	}
	if !f.NeighborhoodsCRS.IsZero() {
		layer.CRS = f.NeighborhoodsCRS
	}
	return layer, nil
}

func (f Files) LoadNodes(_ context.Context) (geo.PointLayer, error) {
	layer, err := geodata.LoadNodes(f.RoadNetworkPath)
	if err != nil {
		return geo.PointLayer{}, err
	}
	if !f.RoadNetworkCRS.IsZero() {
		layer.CRS = f.RoadNetworkCRS
	}
	return layer, nil
}

func (f Files) LoadRaster(_ context.Context) (Sampler, error) {
	g, err := raster.Open(f.ElevationRasterPath)
	if err != nil {
		return nil, err
	}
	return g, nil
}

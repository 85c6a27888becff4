package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// FilesFromConfig resolves the dataset paths and CRS overrides in cfg.
func FilesFromConfig(cfg *config.Config) (Files, error) {
	f := Files{
		NeighborhoodsPath:     cfg.NeighborhoodsPath,
		NeighborhoodNameField: cfg.NeighborhoodNameField,
		RoadNetworkPath:       cfg.RoadNetworkPath,
		ElevationRasterPath:   cfg.ElevationRasterPath,
	}
	var err error
	if cfg.NeighborhoodsCRS != "" {
		if f.NeighborhoodsCRS, err = geo.ParseCRS(cfg.NeighborhoodsCRS); err != nil {
			return Files{}, fmt.Errorf("NEIGHBORHOODS_CRS: %w", err)
		}
	}
	if cfg.RoadNetworkCRS != "" {
		if f.RoadNetworkCRS, err = geo.ParseCRS(cfg.RoadNetworkCRS); err != nil {
			return Files{}, fmt.Errorf("ROAD_NETWORK_CRS: %w", err)
		}
	}
	return f, nil
}

// OptionsFromConfig maps the geodata settings in cfg onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Strict:                cfg.StrictMode,
		RepairPolygons:        cfg.RepairPolygons,
		AssumeRasterTargetCRS: cfg.RasterAssumeTargetCRS,
		UTMZone:               cfg.TargetUTMZone,
		UTMSouth:              cfg.TargetUTMSouth,
	}
}

// NewFromConfig builds the file-backed pipeline described by cfg and returns
// the normalizer it projects into, so point queries can share it.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, *geo.Normalizer, error) {
	files, err := FilesFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	normalizer := geo.NewNormalizer(geo.UTM(cfg.TargetUTMZone, cfg.TargetUTMSouth))
	return New(files, files, files, normalizer, OptionsFromConfig(cfg), logger, metrics), normalizer, nil
}

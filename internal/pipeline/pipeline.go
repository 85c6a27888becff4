// Package pipeline turns the three geodata layers into a per-neighbourhood
// elevation index: load, normalise, join, sample, aggregate.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ctessum/geom/proj"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Options tune how the pipeline treats imperfect data.
type Options struct {
	// Strict turns missing files and undeclared raster CRS into errors.
	Strict bool
	// RepairPolygons rebuilds invalid neighbourhood polygons before indexing.
	RepairPolygons bool
	// AssumeRasterTargetCRS acknowledges that a raster without a .prj is
	// already in the target CRS, silencing the startup warning.
	AssumeRasterTargetCRS bool
	UTMZone               int
	UTMSouth              bool
}

// Stats summarises one run for logs and the validate tool.
type Stats struct {
	Neighborhoods     int
	Duplicates        []string
	Skipped           int
	Repaired          int
	PointsLoaded      int
	PointsSkipped     int
	PointsJoined      int
	PointsDropped     int
	Samples           domain.AggregateStats
	RasterHasCRS      bool
	RasterReprojected bool
	UTMZone           *geo.ZoneReport
	WithoutSamples    []string
}

// Result is the cached product of a run.
type Result struct {
	// Neighborhoods lists every known name in layer load order.
	Neighborhoods []string
	Elevations    domain.ElevationIndex
	// Index and Grid serve point queries; either may be nil when degraded.
	Index *geo.Index
	Grid  Sampler
	Stats Stats
	// Degraded lists the steps that fell back to an empty result.
	Degraded []string
}

// EmptyResult is the lenient-mode answer when nothing could be loaded.
func EmptyResult() *Result {
	return &Result{Elevations: domain.ElevationIndex{}}
}

// Pipeline computes a Result from its loaders.
type Pipeline struct {
	polygons   PolygonLoader
	nodes      NodeLoader
	raster     RasterLoader
	normalizer *geo.Normalizer
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Pipeline with the given loaders and observability.
func New(polygons PolygonLoader, nodes NodeLoader, raster RasterLoader, normalizer *geo.Normalizer,
	opts Options, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		polygons:   polygons,
		nodes:      nodes,
		raster:     raster,
		normalizer: normalizer,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run executes one full pass. In lenient mode failures degrade the result and
// Run returns no error; in strict mode they are returned wrapped in
// domain.ErrGeodataUnavailable.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx)
	p.metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		p.metrics.PipelineRuns.WithLabelValues("error").Inc()
		return nil, err
	case len(res.Degraded) > 0:
		p.metrics.PipelineRuns.WithLabelValues("degraded").Inc()
	default:
		p.metrics.PipelineRuns.WithLabelValues("success").Inc()
	}
	p.metrics.NeighborhoodsLoaded.Set(float64(len(res.Neighborhoods)))
	p.metrics.NeighborhoodsIndexed.Set(float64(len(res.Elevations)))

	p.logger.Info("geodata pipeline finished",
		"neighborhoods", len(res.Neighborhoods),
		"with_elevation", len(res.Elevations),
		"points_loaded", res.Stats.PointsLoaded,
		"points_joined", res.Stats.PointsJoined,
		"samples_valid", res.Stats.Samples.Valid,
		"samples_invalid", res.Stats.Samples.Invalid,
		"degraded", res.Degraded,
		"duration", time.Since(start),
	)
	return res, nil
}

// degrade records a failed step. It returns the error to propagate in strict
// mode, or nil after logging in lenient mode.
func (p *Pipeline) degrade(res *Result, step string, err error) error {
	if p.opts.Strict {
		return fmt.Errorf("%w: %s: %w", domain.ErrGeodataUnavailable, step, err)
	}
	p.logger.Error("geodata step failed, continuing with degraded data", "step", step, "error", err)
	res.Degraded = append(res.Degraded, step)
	return nil
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := EmptyResult()

	var (
		polyLayer geo.PolygonLayer
		nodeLayer geo.PointLayer
		polyErr   error
		nodeErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		polyLayer, polyErr = p.polygons.LoadPolygons(gctx)
		if p.opts.Strict {
			return polyErr
		}
		return nil
	})
	g.Go(func() error {
		nodeLayer, nodeErr = p.nodes.LoadNodes(gctx)
		if p.opts.Strict {
			return nodeErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: load layers: %w", domain.ErrGeodataUnavailable, err)
	}

	if polyErr != nil {
		// Without polygons nothing downstream has a name to attach to.
		return res, p.degrade(res, "neighborhoods", polyErr)
	}
	neighborhoods, err := p.preparePolygons(polyLayer, &res.Stats)
	if err != nil {
		return res, p.degrade(res, "neighborhoods", err)
	}
	for _, nb := range neighborhoods {
		res.Neighborhoods = append(res.Neighborhoods, nb.Name)
	}
	res.Index = geo.NewIndex(neighborhoods)

	grid, err := p.loadRaster(ctx, &res.Stats)
	if err != nil {
		if err := p.degrade(res, "elevation_raster", err); err != nil {
			return nil, err
		}
	} else {
		res.Grid = grid
	}

	if nodeErr != nil {
		if err := p.degrade(res, "road_network", nodeErr); err != nil {
			return nil, err
		}
	}
	if nodeErr != nil || res.Grid == nil {
		res.Stats.WithoutSamples = res.Neighborhoods
		return res, nil
	}

	samples, err := p.sample(ctx, res, nodeLayer)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if err := p.degrade(res, "road_network", err); err != nil {
			return nil, err
		}
		return res, nil
	}

	idx, stats := domain.Aggregate(samples)
	res.Elevations = idx
	res.Stats.Samples = stats
	p.metrics.Samples.WithLabelValues("valid").Add(float64(stats.Valid))
	p.metrics.Samples.WithLabelValues("invalid").Add(float64(stats.Invalid))

	for _, name := range res.Neighborhoods {
		if _, ok := idx.Lookup(name); !ok {
			res.Stats.WithoutSamples = append(res.Stats.WithoutSamples, name)
		}
	}
	if n := len(res.Stats.WithoutSamples); n > 0 {
		p.logger.Warn("neighborhoods without valid elevation samples use the rainfall rule",
			"count", n, "names", res.Stats.WithoutSamples)
	}
	return res, nil
}

// preparePolygons repairs and reprojects the neighbourhood layer.
func (p *Pipeline) preparePolygons(layer geo.PolygonLayer, stats *Stats) ([]domain.Neighborhood, error) {
	stats.Neighborhoods = len(layer.Neighborhoods)
	stats.Duplicates = layer.Duplicates
	stats.Skipped = layer.Skipped
	if len(layer.Duplicates) > 0 {
		p.logger.Warn("duplicate neighborhood names, keeping first occurrence", "names", layer.Duplicates)
	}
	if layer.Skipped > 0 {
		p.logger.Warn("neighborhood features skipped", "count", layer.Skipped)
	}
	if layer.CRS.IsZero() {
		p.logger.Info("neighborhood layer declares no CRS, assuming default",
			"crs", p.normalizer.Default.String())
	}

	if p.opts.RepairPolygons {
		for i, nb := range layer.Neighborhoods {
			fixed, changed, err := geo.Repair(nb.Geometry)
			if err != nil {
				p.logger.Warn("polygon repair failed, keeping original", "neighborhood", nb.Name, "error", err)
				continue
			}
			if changed {
				layer.Neighborhoods[i].Geometry = fixed
				stats.Repaired++
				p.metrics.PolygonsRepaired.Inc()
			}
		}
		if stats.Repaired > 0 {
			p.logger.Warn("repaired invalid neighborhood polygons", "count", stats.Repaired)
		}
	}

	return p.normalizer.Polygons(layer)
}

func (p *Pipeline) loadRaster(ctx context.Context, stats *Stats) (Sampler, error) {
	grid, err := p.raster.LoadRaster(ctx)
	if err != nil {
		return nil, err
	}
	stats.RasterHasCRS = grid.HasCRS()
	crs := grid.CRS()
	if crs.IsZero() {
		reason := "declares no CRS"
		if grid.HasCRS() {
			reason = "has an unreadable .prj"
		}
		switch {
		case p.opts.AssumeRasterTargetCRS:
			p.logger.Info("elevation raster "+reason+", assuming target CRS as configured",
				"target", p.normalizer.Target.String())
		case p.opts.Strict:
			return nil, fmt.Errorf("%w: elevation raster %s", domain.ErrMissingCRS, reason)
		default:
			p.logger.Warn("elevation raster "+reason+", assuming target CRS; set RASTER_ASSUME_TARGET_CRS=true to acknowledge",
				"target", p.normalizer.Target.String())
		}
		return grid, nil
	}
	if crs.Same(p.normalizer.Target) {
		return grid, nil
	}

	toRaster, err := p.normalizer.Target.Transformer(crs)
	if err != nil {
		return nil, fmt.Errorf("elevation raster CRS %s: %w", crs, err)
	}
	stats.RasterReprojected = true
	p.logger.Warn("elevation raster CRS differs from target, sample points are reprojected into it",
		"raster_crs", crs.String(), "target", p.normalizer.Target.String())
	return reprojected{Sampler: grid, toRaster: toRaster}, nil
}

// reprojected samples a raster stored in another CRS by moving each
// target-CRS coordinate into the raster's CRS first.
type reprojected struct {
	Sampler
	toRaster proj.Transformer
}

func (r reprojected) Sample(x, y float64) float64 {
	rx, ry, err := r.toRaster(x, y)
	if err != nil {
		return math.NaN()
	}
	return r.Sampler.Sample(rx, ry)
}

// sample joins the road nodes to neighbourhoods and reads the raster at each
// joined node.
func (p *Pipeline) sample(ctx context.Context, res *Result, layer geo.PointLayer) ([]domain.ElevationSample, error) {
	res.Stats.PointsLoaded = len(layer.Points)
	res.Stats.PointsSkipped = layer.Skipped
	p.metrics.PointsLoaded.Add(float64(len(layer.Points)))

	if zr, ok := geo.CheckUTMZone(layer, p.opts.UTMZone, p.opts.UTMSouth); ok {
		res.Stats.UTMZone = &zr
		if !zr.Match {
			p.logger.Warn("road network lies outside the target UTM zone, distances will be distorted",
				"data_zone", fmt.Sprintf("%d%s", zr.Zone, zr.Letter), "target_zone", p.opts.UTMZone)
		}
	}

	points, err := p.normalizer.Points(layer)
	if err != nil {
		return nil, err
	}
	matches, err := res.Index.Join(ctx, points)
	if err != nil {
		return nil, err
	}
	res.Stats.PointsJoined = len(matches)
	res.Stats.PointsDropped = len(points) - len(matches)
	p.metrics.PointsJoined.Add(float64(len(matches)))
	p.metrics.PointsDropped.Add(float64(res.Stats.PointsDropped))

	samples := make([]domain.ElevationSample, len(matches))
	for i, m := range matches {
		samples[i] = domain.ElevationSample{
			PointID:      m.Point.ID,
			Neighborhood: m.Neighborhood,
			Elevation:    res.Grid.Sample(m.Point.X, m.Point.Y),
		}
	}
	return samples, nil
}

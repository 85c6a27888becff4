package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	utm "github.com/im7mortal/UTM"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

// --- fakes ---

var target = geo.UTM(22, true)

type fakePolygons struct {
	layer geo.PolygonLayer
	err   error
}

func (f fakePolygons) LoadPolygons(context.Context) (geo.PolygonLayer, error) { return f.layer, f.err }

type fakeNodes struct {
	layer geo.PointLayer
	err   error
}

func (f fakeNodes) LoadNodes(context.Context) (geo.PointLayer, error) { return f.layer, f.err }

// fakeGrid returns the value registered for a point's X coordinate, NaN otherwise.
type fakeGrid struct {
	byX map[float64]float64
	crs geo.CRS
}

func (g fakeGrid) Sample(x, _ float64) float64 {
	if v, ok := g.byX[x]; ok {
		return v
	}
	return math.NaN()
}

func (g fakeGrid) HasCRS() bool { return !g.crs.IsZero() }

func (g fakeGrid) CRS() geo.CRS { return g.crs }

type fakeRaster struct {
	grid pipeline.Sampler
	err  error
}

func (f fakeRaster) LoadRaster(context.Context) (pipeline.Sampler, error) { return f.grid, f.err }

func square(x0, y0, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x0 + size, Y: y0}, {X: x0 + size, Y: y0 + size}, {X: x0, Y: y0 + size}, {X: x0, Y: y0},
	}}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPolygons() fakePolygons {
	return fakePolygons{layer: geo.PolygonLayer{
		CRS: target,
		Neighborhoods: []domain.Neighborhood{
			{Name: "Jurunas", Geometry: square(0, 0, 10)},
			{Name: "Condor", Geometry: square(10, 0, 10)},
			{Name: "Guamá", Geometry: square(100, 0, 10)},
		},
	}}
}

func testNodes() fakeNodes {
	return fakeNodes{layer: geo.PointLayer{
		CRS: target,
		Points: []domain.SamplePoint{
			{ID: "1", X: 1, Y: 5},
			{ID: "2", X: 2, Y: 5},
			{ID: "3", X: 3, Y: 5},
			{ID: "4", X: 15, Y: 5},
			{ID: "5", X: 500, Y: 500},
		},
	}}
}

func testGrid() fakeGrid {
	return fakeGrid{byX: map[float64]float64{1: 10, 2: -5, 3: 20, 15: 0}, crs: target}
}

func newPipeline(p pipeline.PolygonLoader, n pipeline.NodeLoader, r pipeline.RasterLoader, opts pipeline.Options, m *observability.Metrics) *pipeline.Pipeline {
	opts.UTMZone, opts.UTMSouth = 22, true
	return pipeline.New(p, n, r, geo.NewNormalizer(target), opts, discardLogger(), m)
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	m := observability.NewMetricsForTesting()
	p := newPipeline(testPolygons(), testNodes(), fakeRaster{grid: testGrid()}, pipeline.Options{}, m)

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff(domain.ElevationIndex{"Jurunas": 15}, res.Elevations); diff != "" {
		t.Errorf("elevations mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"Jurunas", "Condor", "Guamá"}, res.Neighborhoods)
	assert.Equal(t, []string{"Condor", "Guamá"}, res.Stats.WithoutSamples)
	assert.Equal(t, 5, res.Stats.PointsLoaded)
	assert.Equal(t, 4, res.Stats.PointsJoined)
	assert.Equal(t, 1, res.Stats.PointsDropped)
	assert.Equal(t, domain.AggregateStats{Samples: 4, Valid: 2, Invalid: 2, Neighborhoods: 1}, res.Stats.Samples)
	assert.Empty(t, res.Degraded)
	assert.NotNil(t, res.Index)
	assert.NotNil(t, res.Grid)

	name, ok := res.Index.Locate(5, 5)
	assert.True(t, ok)
	assert.Equal(t, "Jurunas", name)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NeighborhoodsLoaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NeighborhoodsIndexed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Samples.WithLabelValues("invalid")))
}

func TestPipeline_Run_MissingPolygons(t *testing.T) {
	missing := fakePolygons{err: fmt.Errorf("%w: bairros.geojson", domain.ErrMissingFile)}

	t.Run("lenient returns an empty result", func(t *testing.T) {
		m := observability.NewMetricsForTesting()
		p := newPipeline(missing, testNodes(), fakeRaster{grid: testGrid()}, pipeline.Options{}, m)

		res, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Neighborhoods)
		assert.Empty(t, res.Elevations)
		assert.Equal(t, []string{"neighborhoods"}, res.Degraded)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("degraded")))
	})

	t.Run("strict fails", func(t *testing.T) {
		m := observability.NewMetricsForTesting()
		p := newPipeline(missing, testNodes(), fakeRaster{grid: testGrid()}, pipeline.Options{Strict: true}, m)

		_, err := p.Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGeodataUnavailable)
		assert.ErrorIs(t, err, domain.ErrMissingFile)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("error")))
	})
}

func TestPipeline_Run_MissingNodes(t *testing.T) {
	missing := fakeNodes{err: fmt.Errorf("%w: belem_drive.graphml", domain.ErrMissingFile)}

	p := newPipeline(testPolygons(), missing, fakeRaster{grid: testGrid()}, pipeline.Options{}, observability.NewMetricsForTesting())
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Jurunas", "Condor", "Guamá"}, res.Neighborhoods, "names survive")
	assert.Empty(t, res.Elevations)
	assert.Equal(t, []string{"road_network"}, res.Degraded)

	strict := newPipeline(testPolygons(), missing, fakeRaster{grid: testGrid()}, pipeline.Options{Strict: true}, observability.NewMetricsForTesting())
	_, err = strict.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrMissingFile)
}

func TestPipeline_Run_MissingRaster(t *testing.T) {
	missing := fakeRaster{err: fmt.Errorf("%w: relevo.asc", domain.ErrMissingFile)}

	p := newPipeline(testPolygons(), testNodes(), missing, pipeline.Options{}, observability.NewMetricsForTesting())
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Neighborhoods, 3)
	assert.Empty(t, res.Elevations)
	assert.Nil(t, res.Grid)
	assert.Equal(t, []string{"elevation_raster"}, res.Degraded)

	strict := newPipeline(testPolygons(), testNodes(), missing, pipeline.Options{Strict: true}, observability.NewMetricsForTesting())
	_, err = strict.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrGeodataUnavailable)
}

func TestPipeline_Run_RasterWithoutCRS(t *testing.T) {
	undeclared := testGrid()
	undeclared.crs = geo.CRS{}

	t.Run("lenient assumes target", func(t *testing.T) {
		p := newPipeline(testPolygons(), testNodes(), fakeRaster{grid: undeclared}, pipeline.Options{}, observability.NewMetricsForTesting())
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.False(t, res.Stats.RasterHasCRS)
		assert.Len(t, res.Elevations, 1)
	})

	t.Run("strict refuses", func(t *testing.T) {
		p := newPipeline(testPolygons(), testNodes(), fakeRaster{grid: undeclared}, pipeline.Options{Strict: true}, observability.NewMetricsForTesting())
		_, err := p.Run(context.Background())
		assert.ErrorIs(t, err, domain.ErrMissingCRS)
	})

	t.Run("strict with explicit assumption", func(t *testing.T) {
		opts := pipeline.Options{Strict: true, AssumeRasterTargetCRS: true}
		p := newPipeline(testPolygons(), testNodes(), fakeRaster{grid: undeclared}, opts, observability.NewMetricsForTesting())
		res, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Len(t, res.Elevations, 1)
	})
}

func TestPipeline_Run_ReportsDuplicates(t *testing.T) {
	polys := testPolygons()
	polys.layer.Duplicates = []string{"Condor"}
	polys.layer.Skipped = 2

	p := newPipeline(polys, testNodes(), fakeRaster{grid: testGrid()}, pipeline.Options{}, observability.NewMetricsForTesting())
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Condor"}, res.Stats.Duplicates)
	assert.Equal(t, 2, res.Stats.Skipped)
}

func TestPipeline_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newPipeline(testPolygons(), testNodes(), fakeRaster{grid: testGrid()}, pipeline.Options{}, observability.NewMetricsForTesting())
	_, err := p.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

// writeBelemVectors writes two lon/lat neighbourhoods and three GraphML road
// nodes, two in Nazaré and one in São Brás.
func writeBelemVectors(t *testing.T, dir string) (polygonsPath, nodesPath string) {
	t.Helper()
	polygons := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"NM_BAIRRO":"Nazaré"},"geometry":{"type":"Polygon","coordinates":[[[-48.490,-1.460],[-48.480,-1.460],[-48.480,-1.450],[-48.490,-1.450],[-48.490,-1.460]]]}},
	  {"type":"Feature","properties":{"NM_BAIRRO":"São Brás"},"geometry":{"type":"Polygon","coordinates":[[[-48.480,-1.460],[-48.470,-1.460],[-48.470,-1.450],[-48.480,-1.450],[-48.480,-1.460]]]}}]}`
	polygonsPath = filepath.Join(dir, "bairros.geojson")
	require.NoError(t, os.WriteFile(polygonsPath, []byte(polygons), 0o600))

	nodes := []struct {
		id       string
		lon, lat float64
	}{
		{"1", -48.485, -1.455},
		{"2", -48.484, -1.456},
		{"3", -48.475, -1.455},
	}
	var graph strings.Builder
	graph.WriteString(`<graphml><key id="d4" for="node" attr.name="y"/><key id="d5" for="node" attr.name="x"/><graph>`)
	for _, n := range nodes {
		fmt.Fprintf(&graph, `<node id="%s"><data key="d4">%f</data><data key="d5">%f</data></node>`, n.id, n.lat, n.lon)
	}
	graph.WriteString(`</graph></graphml>`)
	nodesPath = filepath.Join(dir, "drive.graphml")
	require.NoError(t, os.WriteFile(nodesPath, []byte(graph.String()), 0o600))
	return polygonsPath, nodesPath
}

// writeASCII writes a 40x40 ESRI ASCII grid whose west half holds west and east
// half holds east.
func writeASCII(t *testing.T, path string, xll, yll, cellsize float64, west, east string) {
	t.Helper()
	var asc strings.Builder
	fmt.Fprintf(&asc, "ncols 40\nnrows 40\nxllcorner %f\nyllcorner %f\ncellsize %g\nNODATA_value -9999\n", xll, yll, cellsize)
	for r := 0; r < 40; r++ {
		for c := 0; c < 40; c++ {
			v := west
			if c >= 20 {
				v = east
			}
			asc.WriteString(v + " ")
		}
		asc.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(asc.String()), 0o600))
}

// TestPipeline_Run_Files runs the full file-backed pipeline on a small dataset
// around Belém: lon/lat vector layers and a UTM 22S raster.
func TestPipeline_Run_Files(t *testing.T) {
	dir := t.TempDir()
	polygonsPath, nodesPath := writeBelemVectors(t, dir)

	// A 4 km square grid in UTM 22S centred on the nodes: west half 8 m, east half 4 m.
	e, n, _, _, err := utm.FromLatLon(-1.455, -48.480, false)
	require.NoError(t, err)
	writeASCII(t, filepath.Join(dir, "relevo.asc"), e-2000, n-2000, 100, "8", "4")

	files := pipeline.Files{
		NeighborhoodsPath:     polygonsPath,
		NeighborhoodNameField: "NM_BAIRRO",
		RoadNetworkPath:       nodesPath,
		RoadNetworkCRS:        geo.WGS84,
		ElevationRasterPath:   filepath.Join(dir, "relevo.asc"),
	}
	p := newPipeline(files, files, files, pipeline.Options{AssumeRasterTargetCRS: true, RepairPolygons: true}, observability.NewMetricsForTesting())

	res, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Nazaré", "São Brás"}, res.Neighborhoods)
	assert.Empty(t, res.Degraded)
	assert.Equal(t, 3, res.Stats.PointsJoined)
	assert.False(t, res.Stats.RasterReprojected)
	require.NotNil(t, res.Stats.UTMZone)
	assert.True(t, res.Stats.UTMZone.Match)

	nazare, ok := res.Elevations.Lookup("Nazaré")
	require.True(t, ok)
	assert.Equal(t, 8.0, nazare)
	saoBras, ok := res.Elevations.Lookup("São Brás")
	require.True(t, ok)
	assert.Equal(t, 4.0, saoBras)

	t.Run("second run over the same files is identical", func(t *testing.T) {
		again, err := p.Run(context.Background())
		require.NoError(t, err)
		if diff := cmp.Diff(res.Elevations, again.Elevations); diff != "" {
			t.Errorf("elevations mismatch (-first +second):\n%s", diff)
		}
		if diff := cmp.Diff(res.Neighborhoods, again.Neighborhoods); diff != "" {
			t.Errorf("neighborhoods mismatch (-first +second):\n%s", diff)
		}
	})
}

// TestPipeline_Run_RasterInOtherCRS samples a lon/lat raster declared by its
// .prj while the pipeline works in UTM 22S.
func TestPipeline_Run_RasterInOtherCRS(t *testing.T) {
	dir := t.TempDir()
	polygonsPath, nodesPath := writeBelemVectors(t, dir)

	// 0.001° cells over lon [-48.50, -48.46], lat [-1.47, -1.43]: west of -48.48 is 12 m, east is 5 m.
	rasterPath := filepath.Join(dir, "relevo.asc")
	writeASCII(t, rasterPath, -48.50, -1.47, 0.001, "12", "5")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relevo.prj"), []byte(`GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984"]]`), 0o600))

	files := pipeline.Files{
		NeighborhoodsPath:     polygonsPath,
		NeighborhoodNameField: "NM_BAIRRO",
		RoadNetworkPath:       nodesPath,
		ElevationRasterPath:   rasterPath,
	}

	for _, strict := range []bool{false, true} {
		t.Run(fmt.Sprintf("strict=%t", strict), func(t *testing.T) {
			p := newPipeline(files, files, files, pipeline.Options{Strict: strict}, observability.NewMetricsForTesting())
			res, err := p.Run(context.Background())
			require.NoError(t, err)

			assert.Empty(t, res.Degraded)
			assert.True(t, res.Stats.RasterHasCRS)
			assert.True(t, res.Stats.RasterReprojected)
			assert.Equal(t, domain.ElevationIndex{"Nazaré": 12, "São Brás": 5}, res.Elevations)

			// Point queries go through the same grid in target coordinates.
			e, n, _, _, err := utm.FromLatLon(-1.455, -48.485, false)
			require.NoError(t, err)
			assert.Equal(t, 12.0, res.Grid.Sample(e, n))
		})
	}
}

func TestPipeline_Run_RasterWithUnreadablePrj(t *testing.T) {
	dir := t.TempDir()
	polygonsPath, nodesPath := writeBelemVectors(t, dir)
	rasterPath := filepath.Join(dir, "relevo.asc")
	writeASCII(t, rasterPath, 0, 0, 100, "8", "4")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relevo.prj"), []byte(`PROJCS["Lambert"]`), 0o600))

	files := pipeline.Files{
		NeighborhoodsPath:     polygonsPath,
		NeighborhoodNameField: "NM_BAIRRO",
		RoadNetworkPath:       nodesPath,
		ElevationRasterPath:   rasterPath,
	}

	p := newPipeline(files, files, files, pipeline.Options{Strict: true}, observability.NewMetricsForTesting())
	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrMissingCRS)

	lenient := newPipeline(files, files, files, pipeline.Options{}, observability.NewMetricsForTesting())
	res, err := lenient.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stats.RasterHasCRS)
	assert.False(t, res.Stats.RasterReprojected)
}

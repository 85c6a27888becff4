// Command validate checks a geodata dataset before it is deployed. It loads the
// layers through the same pipeline the service uses and reports what the
// service would otherwise only log at startup: duplicate or unnamed
// neighbourhoods, missing CRS declarations, invalid polygons, a road network
// outside the target UTM zone, neighbourhoods without elevation, and name keys
// that collide or are missing from the frontend's key list.
//
// Paths and CRS settings come from the same environment variables (and .env)
// as the service; flags override them.
//
// Usage:
//
//	go run ./cmd/validate
//	go run ./cmd/validate -neighborhoods data/bairros.shp -name-field NOME \
//	  -nodes data/belem_drive.graphml -raster data/relevo.bil \
//	  -frontend-keys ../frontend/src/keys.json
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/geodata"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/raster"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

// maxDroppedShare is the share of road nodes outside every polygon above which
// the layers are probably misaligned.
const maxDroppedShare = 0.5

// phase tracks pass/fail for a validation phase.
type phase struct {
	name     string
	errors   []string
	warnings []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

type flags struct {
	neighborhoods string
	nameField     string
	nodes         string
	raster        string
	frontendKeys  string
	verbose       bool
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: read .env: %v\n", err)
	}

	var f flags
	flag.StringVar(&f.neighborhoods, "neighborhoods", "", "neighbourhood layer (overrides NEIGHBORHOODS_PATH)")
	flag.StringVar(&f.nameField, "name-field", "", "name attribute (overrides NEIGHBORHOOD_NAME_FIELD)")
	flag.StringVar(&f.nodes, "nodes", "", "road network (overrides ROAD_NETWORK_PATH)")
	flag.StringVar(&f.raster, "raster", "", "elevation raster (overrides ELEVATION_RASTER_PATH)")
	flag.StringVar(&f.frontendKeys, "frontend-keys", "", "JSON array of the keys the frontend map expects")
	flag.BoolVar(&f.verbose, "v", false, "show pipeline logs")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, f)

	os.Exit(run(cfg, f))
}

func applyFlags(cfg *config.Config, f flags) {
	if f.neighborhoods != "" {
		cfg.NeighborhoodsPath = f.neighborhoods
	}
	if f.nameField != "" {
		cfg.NeighborhoodNameField = f.nameField
	}
	if f.nodes != "" {
		cfg.RoadNetworkPath = f.nodes
	}
	if f.raster != "" {
		cfg.ElevationRasterPath = f.raster
	}
	// Every problem should surface as a report line, not abort the run.
	cfg.StrictMode = false
}

func run(cfg *config.Config, f flags) int {
	fmt.Println("=== Flood Risk Geodata Validation ===")
	fmt.Println()
	fmt.Printf("  neighbourhoods  %s (field %s)\n", cfg.NeighborhoodsPath, cfg.NeighborhoodNameField)
	fmt.Printf("  road network    %s\n", cfg.RoadNetworkPath)
	fmt.Printf("  raster          %s\n", cfg.ElevationRasterPath)
	fmt.Printf("  target CRS      %s\n", geo.UTM(cfg.TargetUTMZone, cfg.TargetUTMSouth))
	fmt.Println()

	level := slog.LevelError + 1
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	p, _, err := pipeline.NewFromConfig(cfg, logger, observability.NewMetricsForTesting())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	res, err := p.Run(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: pipeline: %v\n", err)
		return 1
	}

	keys := domain.DefaultNameKeys()
	frontend, err := loadFrontendKeys(f.frontendKeys)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load frontend keys: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateNeighborhoods(cfg, res),
		validateRoadNetwork(cfg, res),
		validateRaster(cfg, res),
		validateCoverage(res),
		validateKeys(res, keys, frontend),
	}

	// ── Report results ──
	allPassed := true
	for _, ph := range phases {
		status := "\033[32mPASS\033[0m"
		if !ph.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(ph.errors))
			allPassed = false
		} else if len(ph.warnings) > 0 {
			status = fmt.Sprintf("\033[33mPASS (%d warnings)\033[0m", len(ph.warnings))
		}
		fmt.Printf("  %-32s %s\n", ph.name, status)
	}

	fmt.Println()
	fmt.Printf("Neighbourhoods: %d loaded, %d with elevation (name keys %s)\n",
		len(res.Neighborhoods), len(res.Elevations), keys.Version)
	fmt.Printf("Road nodes: %d loaded, %d joined, %d outside every neighbourhood\n",
		res.Stats.PointsLoaded, res.Stats.PointsJoined, res.Stats.PointsDropped)
	fmt.Printf("Samples: %d valid, %d invalid (<= 0, nodata or off-grid)\n",
		res.Stats.Samples.Valid, res.Stats.Samples.Invalid)

	for _, ph := range phases {
		if len(ph.errors) == 0 && len(ph.warnings) == 0 {
			continue
		}
		fmt.Printf("\n--- %s ---\n", ph.name)
		for i, e := range ph.errors {
			fmt.Printf("  [E%d] %s\n", i+1, e)
		}
		for i, w := range ph.warnings {
			fmt.Printf("  [W%d] %s\n", i+1, w)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phases ──

func validateNeighborhoods(cfg *config.Config, res *pipeline.Result) *phase {
	p := &phase{name: "Neighbourhood layer"}
	if slices.Contains(res.Degraded, "neighborhoods") || slices.Contains(res.Degraded, "load") {
		p.errorf("neighbourhood layer could not be loaded from %s", cfg.NeighborhoodsPath)
		return p
	}
	if len(res.Neighborhoods) == 0 {
		p.errorf("no named polygons in %s (name field %q)", cfg.NeighborhoodsPath, cfg.NeighborhoodNameField)
	}
	for _, name := range res.Stats.Duplicates {
		p.errorf("duplicate name %q: only the first polygon is used", name)
	}
	if res.Stats.Skipped > 0 {
		p.warnf("%d features skipped (no name or not a polygon)", res.Stats.Skipped)
	}

	layer, err := geodata.LoadPolygons(cfg.NeighborhoodsPath, cfg.NeighborhoodNameField)
	if err != nil {
		p.errorf("reload layer: %v", err)
		return p
	}
	switch {
	case cfg.NeighborhoodsCRS != "":
		p.warnf("CRS forced by NEIGHBORHOODS_CRS=%s (file declares %q)", cfg.NeighborhoodsCRS, layer.CRS.String())
	case layer.CRS.IsZero():
		p.warnf("layer declares no CRS, EPSG:4326 is assumed")
	}
	for _, nb := range layer.Neighborhoods {
		if reason := geo.InvalidReason(nb.Geometry); reason != "" {
			if cfg.RepairPolygons {
				p.warnf("%q is invalid (%s), repaired at load", nb.Name, reason)
			} else {
				p.errorf("%q is invalid (%s) and GEO_REPAIR_POLYGONS is off", nb.Name, reason)
			}
		}
	}
	return p
}

func validateRoadNetwork(cfg *config.Config, res *pipeline.Result) *phase {
	p := &phase{name: "Road network"}
	if slices.Contains(res.Degraded, "road_network") {
		p.errorf("road network could not be used from %s", cfg.RoadNetworkPath)
		return p
	}
	if res.Stats.PointsLoaded == 0 {
		if len(res.Neighborhoods) > 0 && res.Grid != nil {
			p.errorf("no nodes in %s", cfg.RoadNetworkPath)
		}
		return p
	}
	if res.Stats.PointsSkipped > 0 {
		p.warnf("%d nodes without usable coordinates", res.Stats.PointsSkipped)
	}
	if share := float64(res.Stats.PointsDropped) / float64(res.Stats.PointsLoaded); share > maxDroppedShare {
		p.errorf("%.0f%% of nodes fall outside every neighbourhood: check both layers' CRS", share*100)
	}
	if zr := res.Stats.UTMZone; zr != nil && !zr.Match {
		hemi := "N"
		if zr.South {
			hemi = "S"
		}
		p.errorf("nodes lie in UTM zone %d%s (band %s), target is %s",
			zr.Zone, hemi, zr.Letter, geo.UTM(cfg.TargetUTMZone, cfg.TargetUTMSouth))
	}
	return p
}

func validateRaster(cfg *config.Config, res *pipeline.Result) *phase {
	p := &phase{name: "Elevation raster"}
	if slices.Contains(res.Degraded, "elevation_raster") {
		p.errorf("raster could not be loaded from %s", cfg.ElevationRasterPath)
		return p
	}
	grid, err := raster.Open(cfg.ElevationRasterPath)
	if err != nil {
		p.errorf("reopen raster: %v", err)
		return p
	}
	target := geo.UTM(cfg.TargetUTMZone, cfg.TargetUTMSouth)
	switch {
	case !grid.HasCRS() && cfg.RasterAssumeTargetCRS:
		p.warnf("no .prj sidecar, assumed %s (RASTER_ASSUME_TARGET_CRS)", target)
	case !grid.HasCRS():
		p.errorf("no .prj sidecar: add one or set RASTER_ASSUME_TARGET_CRS=true if it is %s", target)
	case grid.CRS().IsZero():
		p.errorf("unreadable .prj sidecar next to %s", cfg.ElevationRasterPath)
	case res.Stats.RasterReprojected:
		p.warnf("raster CRS %s differs from target %s: every sample point is reprojected into the raster CRS", grid.CRS(), target)
	}

	b := grid.Bounds()
	fmt.Printf("  raster extent   x %.0f..%.0f  y %.0f..%.0f  (%dx%d)\n",
		b.Min.X, b.Max.X, b.Min.Y, b.Max.Y, grid.NCols, grid.NRows)
	if res.Stats.Samples.Samples > 0 && res.Stats.Samples.Valid == 0 {
		p.errorf("every sample is invalid: the grid probably does not overlap the road network")
	}
	return p
}

func validateCoverage(res *pipeline.Result) *phase {
	p := &phase{name: "Elevation coverage"}
	for _, name := range res.Stats.WithoutSamples {
		p.warnf("%q has no valid elevation sample and always uses the rainfall rule", name)
	}
	if n := len(res.Neighborhoods); n > 0 && len(res.Stats.WithoutSamples) == n {
		p.errorf("no neighbourhood has elevation: the model will never be consulted")
	}
	return p
}

func validateKeys(res *pipeline.Result, keys *domain.NameKeys, frontend []string) *phase {
	p := &phase{name: "Name keys"}

	byKey := make(map[string][]string)
	for _, name := range res.Neighborhoods {
		k := keys.Key(name)
		byKey[k] = append(byKey[k], name)
	}
	for _, k := range sortedKeys(byKey) {
		if names := byKey[k]; len(names) > 1 {
			p.errorf("names %s share key %q: the map shows the higher risk for both", quoteAll(names), k)
		}
	}

	if frontend == nil {
		return p
	}
	want := make(map[string]bool, len(frontend))
	for _, k := range frontend {
		want[k] = true
		if _, ok := byKey[k]; !ok {
			p.warnf("frontend key %q has no neighbourhood: it will never be painted", k)
		}
	}
	for _, k := range sortedKeys(byKey) {
		if !want[k] {
			p.errorf("key %q (%s) is missing from the frontend map", k, quoteAll(byKey[k]))
		}
	}
	return p
}

// ── Helpers ──

func loadFrontendKeys(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%s: want a JSON array of strings: %w", path, err)
	}
	return keys, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(q, ", ")
}

// Command genmock writes a small synthetic Belém dataset for local runs and
// tests: neighbourhood polygons (GeoJSON), a road-network node export (GraphML),
// an elevation grid in SIRGAS 2000 / UTM 22S (ESRI ASCII + .prj) and the list of
// frontend keys. It then runs the real pipeline and risk resolver over the files
// and writes a sample assessment, so the fixtures always match service behaviour.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
//	go run ./cmd/genmock -out data/mock -rows 4 -cols 5 -nodes 40 -no-prj
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	utm "github.com/im7mortal/UTM"
	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

// Belém sits on the east bank of the Guajará bay; the mock grid starts there.
const (
	originLon  = -48.505
	originLat  = -1.475
	cellDeg    = 0.01
	rasterCell = 30.0
	noData     = -9999.0
	nameField  = "NM_BAIRRO"
	sampleRain = 180.0
	sampleTide = 3.2
)

// sirgasUTM22S is the ESRI WKT written next to the grid.
const sirgasUTM22S = `PROJCS["SIRGAS 2000 / UTM zone 22S",GEOGCS["SIRGAS 2000",DATUM["Sistema_de_Referencia_Geocentrico_para_las_AmericaS_2000",SPHEROID["GRS 1980",6378137,298.257222101]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",-51],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",10000000],UNIT["metre",1],AUTHORITY["EPSG","31982"]]`

var neighborhoodNames = []string{
	"Cidade Velha", "Campina", "Reduto", "Umarizal", "Telégrafo",
	"Jurunas", "Batista Campos", "Nazaré", "São Brás", "Fátima",
	"Condor", "Cremação", "Marco", "Pedreira", "Sacramenta",
	"Guamá", "Canudos", "Montese (Terra Firme)", "Curió-Utinga", "Souza",
	"Marambaia", "Val-de-Cans", "Barreiro", "Maracangalha", "Miramar",
}

type options struct {
	out   string
	rows  int
	cols  int
	nodes int
	seed  uint64
	noPRJ bool
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var o options
	flag.StringVar(&o.out, "out", "data/mock", "output directory")
	flag.IntVar(&o.rows, "rows", 3, "neighbourhood rows")
	flag.IntVar(&o.cols, "cols", 4, "neighbourhood columns")
	flag.IntVar(&o.nodes, "nodes", 25, "road nodes per neighbourhood")
	flag.Uint64Var(&o.seed, "seed", 42, "random seed")
	flag.BoolVar(&o.noPRJ, "no-prj", false, "omit the raster .prj sidecar")
	flag.Parse()

	if o.rows < 1 || o.cols < 1 || o.rows*o.cols > len(neighborhoodNames) {
		return fmt.Errorf("rows*cols must be between 1 and %d", len(neighborhoodNames))
	}
	if err := os.MkdirAll(o.out, 0o755); err != nil {
		return err
	}
	rng := rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))

	polygonsPath := filepath.Join(o.out, "bairros.geojson")
	if err := writeNeighborhoods(polygonsPath, o); err != nil {
		return fmt.Errorf("writing neighbourhoods: %w", err)
	}
	log.Printf("wrote %d neighbourhoods: %s", o.rows*o.cols, polygonsPath)

	nodesPath := filepath.Join(o.out, "belem_drive.graphml")
	n, err := writeGraphML(nodesPath, o, rng)
	if err != nil {
		return fmt.Errorf("writing road network: %w", err)
	}
	log.Printf("wrote %d road nodes: %s", n, nodesPath)

	rasterPath := filepath.Join(o.out, "relevo.asc")
	if err := writeGrid(rasterPath, o, rng); err != nil {
		return fmt.Errorf("writing elevation grid: %w", err)
	}
	log.Printf("wrote elevation grid: %s (prj=%t)", rasterPath, !o.noPRJ)

	keysPath := filepath.Join(o.out, "frontend_keys.json")
	if err := writeKeys(keysPath, o); err != nil {
		return fmt.Errorf("writing frontend keys: %w", err)
	}
	log.Printf("wrote frontend keys: %s", keysPath)

	files := pipeline.Files{
		NeighborhoodsPath:     polygonsPath,
		NeighborhoodNameField: nameField,
		RoadNetworkPath:       nodesPath,
		ElevationRasterPath:   rasterPath,
	}
	assessmentPath := filepath.Join(o.out, "assessment.json")
	if err := writeAssessment(assessmentPath, files); err != nil {
		return fmt.Errorf("writing sample assessment: %w", err)
	}
	log.Printf("wrote sample assessment: %s", assessmentPath)
	return nil
}

// cellBounds returns the lon/lat square of neighbourhood (r, c).
func cellBounds(r, c int) orb.Bound {
	minLon := originLon + float64(c)*cellDeg
	minLat := originLat + float64(r)*cellDeg
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{minLon + cellDeg, minLat + cellDeg}}
}

func writeNeighborhoods(path string, o options) error {
	fc := geojson.NewFeatureCollection()
	for r := range o.rows {
		for c := range o.cols {
			f := geojson.NewFeature(cellBounds(r, c).ToPolygon())
			f.Properties[nameField] = neighborhoodNames[r*o.cols+c]
			fc.Append(f)
		}
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// writeGraphML scatters nodes inside every neighbourhood plus a few in the bay,
// which the join must drop. Consecutive nodes are linked so the file looks like
// a drivable graph.
func writeGraphML(path string, o options, rng *rand.Rand) (int, error) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">` + "\n")
	b.WriteString(`  <key id="d0" for="graph" attr.name="crs" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="d4" for="node" attr.name="y" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="d5" for="node" attr.name="x" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="d9" for="edge" attr.name="length" attr.type="string"/>` + "\n")
	b.WriteString(`  <graph edgedefault="directed">` + "\n")
	b.WriteString(`    <data key="d0">epsg:4326</data>` + "\n")

	id := 1000
	var prev int
	writeNode := func(lon, lat float64) {
		id++
		fmt.Fprintf(&b, "    <node id=\"%d\"><data key=\"d4\">%.7f</data><data key=\"d5\">%.7f</data></node>\n", id, lat, lon)
		if prev != 0 {
			fmt.Fprintf(&b, "    <edge source=\"%d\" target=\"%d\"><data key=\"d9\">%.1f</data></edge>\n", prev, id, 50+rng.Float64()*200)
		}
		prev = id
	}

	for r := range o.rows {
		for c := range o.cols {
			cb := cellBounds(r, c)
			for range o.nodes {
				// Keep clear of shared edges so the tie-break never decides.
				lon := cb.Min[0] + cellDeg*(0.05+0.9*rng.Float64())
				lat := cb.Min[1] + cellDeg*(0.05+0.9*rng.Float64())
				writeNode(lon, lat)
			}
		}
	}
	for range 5 {
		writeNode(originLon-0.02*rng.Float64()-0.001, originLat+cellDeg*float64(o.rows)*rng.Float64())
	}

	b.WriteString("  </graph>\n</graphml>\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return 0, err
	}
	return id - 1000, nil
}

// writeGrid covers the neighbourhoods with a UTM 22S grid. Elevation rises
// eastwards from the bay; the westernmost columns are water (nodata) and the
// first neighbourhood column hovers around zero so some samples are dropped.
func writeGrid(path string, o options, rng *rand.Rand) error {
	west, south, _, _, err := utm.FromLatLon(originLat-cellDeg, originLon-cellDeg, false)
	if err != nil {
		return err
	}
	east, north, _, _, err := utm.FromLatLon(originLat+cellDeg*float64(o.rows+1), originLon+cellDeg*float64(o.cols+1), false)
	if err != nil {
		return err
	}
	xll := math.Floor(west/rasterCell) * rasterCell
	yll := math.Floor(south/rasterCell) * rasterCell
	ncols := int(math.Ceil((east - xll) / rasterCell))
	nrows := int(math.Ceil((north - yll) / rasterCell))

	shore, _, _, _, err := utm.FromLatLon(originLat, originLon, false)
	if err != nil {
		return err
	}
	firstColEast, _, _, _, err := utm.FromLatLon(originLat, originLon+cellDeg, false)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ncols %d\nnrows %d\nxllcorner %.3f\nyllcorner %.3f\ncellsize %g\nNODATA_value %g\n",
		ncols, nrows, xll, yll, rasterCell, noData)
	for row := range nrows {
		for col := range ncols {
			x := xll + (float64(col)+0.5)*rasterCell
			v := noData
			switch {
			case x < shore:
			case x < firstColEast:
				v = -0.5 + rng.Float64()
			default:
				v = 2 + (x-firstColEast)*0.004 + rng.Float64()*0.5 + float64(row%7)*0.05
			}
			if col > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%.2f", v)
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return err
	}

	prj := strings.TrimSuffix(path, filepath.Ext(path)) + ".prj"
	if o.noPRJ {
		if err := os.Remove(prj); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return os.WriteFile(prj, []byte(sirgasUTM22S+"\n"), 0o600)
}

func writeKeys(path string, o options) error {
	keys := domain.DefaultNameKeys()
	out := make([]string, 0, o.rows*o.cols)
	for _, name := range neighborhoodNames[:o.rows*o.cols] {
		out = append(out, keys.Key(name))
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// writeAssessment runs the pipeline over the written files and resolves the
// rainfall rule for a heavy-rain request, with a fixed clock for reproducible
// timestamps.
func writeAssessment(path string, files pipeline.Files) error {
	domain.SetClock(clockwork.NewFakeClockAt(time.Date(2025, time.March, 15, 18, 0, 0, 0, time.UTC)))
	defer domain.SetClock(nil)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(files, files, files, geo.NewNormalizer(geo.UTM(22, true)),
		pipeline.Options{RepairPolygons: true, UTMZone: 22, UTMSouth: true}, logger, metrics)
	res, err := p.Run(context.Background())
	if err != nil {
		return err
	}
	log.Printf("pipeline: %d neighbourhoods, %d with elevation, %d/%d nodes joined",
		len(res.Neighborhoods), len(res.Elevations), res.Stats.PointsJoined, res.Stats.PointsLoaded)

	keys := domain.DefaultNameKeys()
	resolver := risk.NewResolver(domain.UnavailablePredictor{}, keys, domain.DefaultRiskPolicy(), false, logger, metrics)
	req := domain.RiskRequest{RainfallMM: sampleRain, WaterLevelM: sampleTide}
	result, counts, err := resolver.Resolve(context.Background(), req, res.Neighborhoods, res.Elevations)
	if err != nil {
		return err
	}

	a := domain.NewRiskAssessment(req, result, counts, keys.Version)
	data, err := json.MarshalIndent(struct {
		Assessment domain.RiskAssessment `json:"assessment"`
		Elevations domain.ElevationIndex `json:"elevations"`
	}{a, res.Elevations}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

package risk_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

// --- fakes ---

type fakeSource struct {
	res *pipeline.Result
	err error
}

func (f fakeSource) Get(context.Context) (*pipeline.Result, error) { return f.res, f.err }

// fakeGrid returns value inside [west, east) of longitude and NaN elsewhere.
type fakeGrid struct {
	west, east float64
	value      float64
}

func (g fakeGrid) Sample(x, _ float64) float64 {
	if x >= g.west && x < g.east {
		return g.value
	}
	return math.NaN()
}

func (fakeGrid) HasCRS() bool { return true }

func (fakeGrid) CRS() geo.CRS { return geo.WGS84 }

type fakeGeocoder struct {
	result domain.GeocodingResult
	err    error
}

func (f fakeGeocoder) ForwardGeocode(context.Context, string) (domain.GeocodingResult, error) {
	return f.result, f.err
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []domain.RiskAssessment
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, a domain.RiskAssessment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, a)
	return p.err
}

func lonLatSquare(lon, lat, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: lon, Y: lat}, {X: lon + size, Y: lat}, {X: lon + size, Y: lat + size}, {X: lon, Y: lat + size}, {X: lon, Y: lat},
	}}
}

// belemResult covers two neighbourhoods side by side; the grid only covers
// the western one.
func belemResult() *pipeline.Result {
	neighborhoods := []domain.Neighborhood{
		{Name: "Nazaré", Geometry: lonLatSquare(-48.49, -1.46, 0.01)},
		{Name: "São Brás", Geometry: lonLatSquare(-48.48, -1.46, 0.01)},
		{Name: "Cidade Velha", Geometry: lonLatSquare(-48.60, -1.60, 0.01)},
	}
	return &pipeline.Result{
		Neighborhoods: []string{"Nazaré", "São Brás", "Cidade Velha"},
		Elevations:    domain.ElevationIndex{"Nazaré": 14, "São Brás": 6},
		Index:         geo.NewIndex(neighborhoods),
		Grid:          fakeGrid{west: -48.49, east: -48.48, value: 12},
	}
}

func newService(src risk.GeoSource, p domain.Predictor, g domain.Geocoder, pub risk.Publisher) *risk.Service {
	m := observability.NewMetricsForTesting()
	resolver := newResolver(p, false, m)
	return risk.NewService(src, resolver, geo.NewNormalizer(geo.WGS84), g, pub, discardLogger(), m)
}

func ptr(v float64) *float64 { return &v }

// --- MapRisk ---

func TestService_MapRisk(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newService(fakeSource{res: belemResult()}, elevationModel(), nil, pub)

	got, err := svc.MapRisk(context.Background(), domain.RiskRequest{RainfallMM: 120, WaterLevelM: 3.1})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskResult{"nazare": 1, "saobras": 0, "cidadevelha": 0}, got)

	require.Len(t, pub.got, 1)
	a := pub.got[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, got, a.Risks)
	assert.Equal(t, 120.0, a.RainfallMM)
	assert.Equal(t, 3, a.Neighborhoods)
	assert.Equal(t, 2, a.Predicted)
	assert.Equal(t, 1, a.Fallback)
	assert.Equal(t, 1, a.AtRisk)
	assert.Equal(t, domain.DefaultNameKeys().Version, a.NameKeysVersion)
}

func TestService_MapRisk_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := newService(fakeSource{res: belemResult()}, elevationModel(), nil, pub)

	got, err := svc.MapRisk(context.Background(), domain.RiskRequest{RainfallMM: 10})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestService_MapRisk_InvalidRequest(t *testing.T) {
	svc := newService(fakeSource{res: belemResult()}, elevationModel(), nil, nil)
	_, err := svc.MapRisk(context.Background(), domain.RiskRequest{RainfallMM: -3})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestService_MapRisk_GeodataUnavailable(t *testing.T) {
	boom := errors.Join(domain.ErrGeodataUnavailable, errors.New("raster missing"))
	svc := newService(fakeSource{err: boom}, elevationModel(), nil, nil)
	_, err := svc.MapRisk(context.Background(), domain.RiskRequest{RainfallMM: 10})
	assert.ErrorIs(t, err, domain.ErrGeodataUnavailable)
}

func TestService_MapRisk_EmptyGeodata(t *testing.T) {
	svc := newService(fakeSource{res: pipeline.EmptyResult()}, elevationModel(), nil, nil)
	got, err := svc.MapRisk(context.Background(), domain.RiskRequest{RainfallMM: 10})
	require.NoError(t, err)
	assert.Empty(t, got)
}

// --- PointRisk ---

func TestService_PointRisk(t *testing.T) {
	rain := domain.RiskRequest{RainfallMM: 40, WaterLevelM: 1}

	tests := []struct {
		name      string
		req       risk.PointRequest
		geocoder  domain.Geocoder
		wantElev  *float64
		wantScore float64
		wantSrc   domain.RiskSource
		wantHood  string
		wantKey   string
	}{
		{
			name:      "explicit elevation",
			req:       risk.PointRequest{RiskRequest: rain, ElevationM: ptr(16)},
			wantElev:  ptr(16),
			wantScore: 0.8,
			wantSrc:   domain.SourceModel,
		},
		{
			name:      "coordinates sampled on the grid",
			req:       risk.PointRequest{RiskRequest: rain, Lat: ptr(-1.455), Lon: ptr(-48.485)},
			wantElev:  ptr(12),
			wantScore: 0.6,
			wantSrc:   domain.SourceModel,
			wantHood:  "Nazaré",
			wantKey:   "nazare",
		},
		{
			name:      "off-grid coordinates use the neighbourhood mean",
			req:       risk.PointRequest{RiskRequest: rain, Lat: ptr(-1.455), Lon: ptr(-48.475)},
			wantElev:  ptr(6),
			wantScore: 0.3,
			wantSrc:   domain.SourceModel,
			wantHood:  "São Brás",
			wantKey:   "saobras",
		},
		{
			name:      "outside every neighbourhood falls back",
			req:       risk.PointRequest{RiskRequest: rain, Lat: ptr(-1.30), Lon: ptr(-48.30)},
			wantScore: 0,
			wantSrc:   domain.SourceRainfallRule,
		},
		{
			name:      "address is geocoded",
			req:       risk.PointRequest{RiskRequest: rain, Address: "Praça da República, Belém"},
			geocoder:  fakeGeocoder{result: domain.GeocodingResult{Lat: -1.455, Lon: -48.485, FormattedAddress: "Praça da República"}},
			wantElev:  ptr(12),
			wantScore: 0.6,
			wantSrc:   domain.SourceModel,
			wantHood:  "Nazaré",
			wantKey:   "nazare",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(fakeSource{res: belemResult()}, elevationModel(), tt.geocoder, nil)
			got, err := svc.PointRisk(context.Background(), tt.req)
			require.NoError(t, err)

			assert.InDelta(t, tt.wantScore, got.Score, 1e-9)
			assert.Equal(t, tt.wantSrc, got.Source)
			assert.Equal(t, tt.wantHood, got.Neighborhood)
			assert.Equal(t, tt.wantKey, got.Key)
			if tt.wantElev == nil {
				assert.Nil(t, got.ElevationM)
			} else {
				require.NotNil(t, got.ElevationM)
				assert.InDelta(t, *tt.wantElev, *got.ElevationM, 1e-9)
			}
		})
	}
}

func TestService_PointRisk_Classification(t *testing.T) {
	svc := newService(fakeSource{res: belemResult()}, elevationModel(), nil, nil)

	got, err := svc.PointRisk(context.Background(), risk.PointRequest{RiskRequest: domain.RiskRequest{RainfallMM: 50}, ElevationM: ptr(14)})
	require.NoError(t, err)
	assert.Equal(t, "ALERTA: Risco de Enchente Detectado", got.Classification)

	got, err = svc.PointRisk(context.Background(), risk.PointRequest{RiskRequest: domain.RiskRequest{RainfallMM: 50}, ElevationM: ptr(4)})
	require.NoError(t, err)
	assert.Equal(t, "Sem Risco de Enchente", got.Classification)
}

func TestService_PointRisk_Errors(t *testing.T) {
	rain := domain.RiskRequest{RainfallMM: 40}

	tests := []struct {
		name     string
		req      risk.PointRequest
		geocoder domain.Geocoder
		wantErr  error
	}{
		{"no location", risk.PointRequest{RiskRequest: rain}, nil, domain.ErrInvalidRequest},
		{"negative rainfall", risk.PointRequest{RiskRequest: domain.RiskRequest{RainfallMM: -1}, ElevationM: ptr(3)}, nil, domain.ErrInvalidRequest},
		{"NaN elevation", risk.PointRequest{RiskRequest: rain, ElevationM: ptr(math.NaN())}, nil, domain.ErrInvalidRequest},
		{"latitude only", risk.PointRequest{RiskRequest: rain, Lat: ptr(-1.4)}, nil, domain.ErrInvalidRequest},
		{"latitude out of range", risk.PointRequest{RiskRequest: rain, Lat: ptr(-91), Lon: ptr(-48)}, nil, domain.ErrInvalidRequest},
		{"geocoding disabled", risk.PointRequest{RiskRequest: rain, Address: "Rua dos Mundurucus"}, nil, domain.ErrInvalidRequest},
		{"address not found", risk.PointRequest{RiskRequest: rain, Address: "nowhere"}, fakeGeocoder{}, domain.ErrLocationNotFound},
		{"geocoder error", risk.PointRequest{RiskRequest: rain, Address: "Rua dos Mundurucus"}, fakeGeocoder{err: errors.New("timeout")}, domain.ErrGeocodingFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService(fakeSource{res: belemResult()}, elevationModel(), tt.geocoder, nil)
			_, err := svc.PointRisk(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// --- ListNeighborhoods ---

func TestService_ListNeighborhoods(t *testing.T) {
	svc := newService(fakeSource{res: belemResult()}, elevationModel(), nil, nil)

	got, err := svc.ListNeighborhoods(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Nazaré", got[0].Name)
	assert.Equal(t, "nazare", got[0].Key)
	require.NotNil(t, got[0].ElevationM)
	assert.Equal(t, 14.0, *got[0].ElevationM)
	assert.Equal(t, "cidadevelha", got[2].Key)
	assert.Nil(t, got[2].ElevationM)
}

package risk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// elevationModel scores elevation/20, so 15 m → 0.75 and 8 m → 0.4.
func elevationModel() domain.PredictorFunc {
	return func(_ context.Context, in domain.PredictionInput) (float64, error) {
		return in.ElevationM / 20, nil
	}
}

func newResolver(p domain.Predictor, strict bool, m *observability.Metrics) *risk.Resolver {
	return risk.NewResolver(p, domain.DefaultNameKeys(), domain.DefaultRiskPolicy(), strict, discardLogger(), m)
}

func TestResolver_Resolve_ModelAndFallback(t *testing.T) {
	m := observability.NewMetricsForTesting()
	r := newResolver(elevationModel(), false, m)

	names := []string{"Umarizal", "Guamá", "Batista Campos"}
	elevations := domain.ElevationIndex{"Umarizal": 15, "Batista Campos": 8}

	got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 100, WaterLevelM: 2}, names, elevations)
	require.NoError(t, err)

	want := domain.RiskResult{"umarizal": 1, "guama": 0, "batistacampos": 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, domain.ResolutionCounts{Neighborhoods: 3, Predicted: 2, Fallback: 1, AtRisk: 1}, counts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RiskResolutions.WithLabelValues("predicted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskResolutions.WithLabelValues("fallback")))
}

func TestResolver_Resolve_FallbackRainfallRule(t *testing.T) {
	names := []string{"Umarizal", "Guamá"}
	elevations := domain.ElevationIndex{"Umarizal": 15}

	tests := []struct {
		name     string
		rainfall float64
		want     float64
	}{
		{"heavy rain", 200, 1},
		{"exactly at threshold", 150, 0},
		{"light rain", 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newResolver(domain.UnavailablePredictor{}, false, observability.NewMetricsForTesting())
			got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: tt.rainfall}, names, elevations)
			require.NoError(t, err)
			assert.Equal(t, domain.RiskResult{"umarizal": tt.want, "guama": tt.want}, got)
			assert.Equal(t, 2, counts.Fallback)
			assert.Zero(t, counts.Predicted)
		})
	}
}

func TestResolver_Resolve_StrictUnavailable(t *testing.T) {
	r := newResolver(domain.UnavailablePredictor{}, true, observability.NewMetricsForTesting())
	_, _, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 10}, []string{"Umarizal"}, nil)
	assert.ErrorIs(t, err, domain.ErrPredictionUnavailable)
}

func TestResolver_Resolve_PredictionErrorFallsBackPerNeighborhood(t *testing.T) {
	var calls atomic.Int32
	flaky := domain.PredictorFunc(func(_ context.Context, in domain.PredictionInput) (float64, error) {
		calls.Add(1)
		if in.ElevationM == 4 {
			return 0, errors.New("model exploded")
		}
		return 0.9, nil
	})
	m := observability.NewMetricsForTesting()
	r := newResolver(flaky, false, m)

	names := []string{"Jurunas", "Cremação"}
	elevations := domain.ElevationIndex{"Jurunas": 4, "Cremação": 6}
	got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 200}, names, elevations)
	require.NoError(t, err)

	assert.Equal(t, domain.RiskResult{"jurunas": 1, "cremacao": 1}, got)
	assert.Equal(t, 1, counts.Predicted)
	assert.Equal(t, 1, counts.Fallback)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PredictorErrors))
}

func TestResolver_Resolve_KeyCollisionKeepsHigherRisk(t *testing.T) {
	r := newResolver(elevationModel(), false, observability.NewMetricsForTesting())

	names := []string{"Montese (Terra Firme)", "Terra Firme"}
	elevations := domain.ElevationIndex{"Terra Firme": 18}
	got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 20}, names, elevations)
	require.NoError(t, err)

	assert.Equal(t, domain.RiskResult{"terrafirme": 1}, got)
	assert.Equal(t, 2, counts.Neighborhoods)
}

func TestResolver_Resolve_ThresholdIsStrict(t *testing.T) {
	r := newResolver(elevationModel(), false, observability.NewMetricsForTesting())

	got, _, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 500},
		[]string{"Marco"}, domain.ElevationIndex{"Marco": 10})
	require.NoError(t, err)
	assert.Equal(t, domain.RiskResult{"marco": 0}, got, "score 0.5 is not above the threshold, even with heavy rain")
}

func TestResolver_Resolve_EveryNameExactlyOnce(t *testing.T) {
	r := newResolver(elevationModel(), false, observability.NewMetricsForTesting())

	names := []string{"Marco", "Pedreira", "Telégrafo", "Sacramenta", "Fátima", "Reduto", "Campina", "Cidade Velha", "Nazaré", "Canudos"}
	elevations := domain.ElevationIndex{"Marco": 12, "Reduto": 3, "Nazaré": 14}
	got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 80}, names, elevations)
	require.NoError(t, err)

	assert.Len(t, got, len(names))
	assert.Equal(t, len(names), counts.Predicted+counts.Fallback)
	for _, name := range names {
		_, ok := got[domain.DefaultNameKeys().Key(name)]
		assert.True(t, ok, name)
	}
}

func TestResolver_Resolve_Empty(t *testing.T) {
	r := newResolver(elevationModel(), false, observability.NewMetricsForTesting())
	got, counts, err := r.Resolve(context.Background(), domain.RiskRequest{RainfallMM: 1}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, counts.Neighborhoods)
}

func TestResolver_Decide(t *testing.T) {
	r := newResolver(elevationModel(), false, observability.NewMetricsForTesting())

	d, err := r.Decide(context.Background(), domain.RiskRequest{RainfallMM: 30}, 16)
	require.NoError(t, err)
	assert.Equal(t, risk.Decision{Score: 0.8, Risk: 1, Source: domain.SourceModel}, d)

	d, err = r.Decide(context.Background(), domain.RiskRequest{RainfallMM: 160}, 0)
	require.NoError(t, err)
	assert.Equal(t, risk.Decision{Score: 1, Risk: 1, Source: domain.SourceRainfallRule}, d)
}

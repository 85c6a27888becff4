package domain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestValidElevation(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want bool
	}{
		{"positive", 12.5, true},
		{"zero", 0, false},
		{"negative", -3, false},
		{"nodata sentinel", -9999, false},
		{"NaN", math.NaN(), false},
		{"inf", math.Inf(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidElevation(tt.v))
		})
	}
}

func TestAggregate(t *testing.T) {
	t.Run("drops invalid readings and averages the rest", func(t *testing.T) {
		samples := []ElevationSample{
			{PointID: "1", Neighborhood: "A", Elevation: 10},
			{PointID: "2", Neighborhood: "A", Elevation: -5},
			{PointID: "3", Neighborhood: "A", Elevation: 20},
			{PointID: "4", Neighborhood: "B", Elevation: 0},
		}

		idx, stats := Aggregate(samples)

		if diff := cmp.Diff(ElevationIndex{"A": 15}, idx); diff != "" {
			t.Errorf("index mismatch (-want +got):\n%s", diff)
		}
		_, ok := idx.Lookup("B")
		assert.False(t, ok, "neighbourhood without valid samples must be absent")
		assert.Equal(t, AggregateStats{Samples: 4, Valid: 2, Invalid: 2, Neighborhoods: 1}, stats)
	})

	t.Run("NaN samples are filtered", func(t *testing.T) {
		idx, stats := Aggregate([]ElevationSample{
			{Neighborhood: "A", Elevation: math.NaN()},
			{Neighborhood: "A", Elevation: 4},
		})

		v, ok := idx.Lookup("A")
		assert.True(t, ok)
		assert.InDelta(t, 4.0, v, 1e-9)
		assert.Equal(t, 1, stats.Invalid)
	})

	t.Run("empty input", func(t *testing.T) {
		idx, stats := Aggregate(nil)

		assert.Empty(t, idx)
		assert.Equal(t, AggregateStats{}, stats)
	})
}

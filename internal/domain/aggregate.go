package domain

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// AggregateStats summarises one aggregation run.
type AggregateStats struct {
	Samples       int
	Valid         int
	Invalid       int
	Neighborhoods int
}

// ValidElevation reports whether a raster reading is usable.
func ValidElevation(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Aggregate groups samples by neighbourhood, drops invalid readings and returns the
// mean of what is left. Neighbourhoods without a valid reading are left out.
func Aggregate(samples []ElevationSample) (ElevationIndex, AggregateStats) {
	groups := make(map[string][]float64)
	stats := AggregateStats{Samples: len(samples)}

	for _, s := range samples {
		if !ValidElevation(s.Elevation) {
			stats.Invalid++
			continue
		}
		stats.Valid++
		groups[s.Neighborhood] = append(groups[s.Neighborhood], s.Elevation)
	}

	idx := make(ElevationIndex, len(groups))
	for name, values := range groups {
		idx[name] = stat.Mean(values, nil)
	}
	stats.Neighborhoods = len(idx)
	return idx, stats
}

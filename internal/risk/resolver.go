// Package risk turns live rainfall and water-level readings into per-neighbourhood
// flood risk, using the cached elevation index and the regression model.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// maxConcurrentPredictions bounds in-flight model calls per resolution.
const maxConcurrentPredictions = 8

// Decision is the outcome for a single neighbourhood or point.
type Decision struct {
	// Score is the raw model score, or the fallback value (0 or 1) when the
	// rainfall rule decided.
	Score  float64
	Risk   float64
	Source domain.RiskSource
}

// Resolver applies the risk policy to every known neighbourhood.
type Resolver struct {
	predictor domain.Predictor
	keys      *domain.NameKeys
	policy    domain.RiskPolicy
	strict    bool
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewResolver creates a Resolver. In strict mode an unavailable predictor is an
// error instead of a reason to use the rainfall rule.
func NewResolver(predictor domain.Predictor, keys *domain.NameKeys, policy domain.RiskPolicy, strict bool,
	logger *slog.Logger, metrics *observability.Metrics) *Resolver {
	if predictor == nil {
		predictor = domain.UnavailablePredictor{}
	}
	return &Resolver{
		predictor: predictor,
		keys:      keys,
		policy:    policy,
		strict:    strict,
		logger:    logger,
		metrics:   metrics,
	}
}

// Keys returns the name-key table used for result keys.
func (r *Resolver) Keys() *domain.NameKeys { return r.keys }

// Policy returns the thresholds in use.
func (r *Resolver) Policy() domain.RiskPolicy { return r.policy }

// Resolve computes a risk for every name. Elevation defaults to 0 when the index
// has none, which sends that neighbourhood to the rainfall rule. Two names that
// fold to the same key keep the higher risk.
func (r *Resolver) Resolve(ctx context.Context, req domain.RiskRequest, names []string,
	elevations domain.ElevationIndex) (domain.RiskResult, domain.ResolutionCounts, error) {
	available := r.predictor.Available()
	if r.strict && !available {
		return nil, domain.ResolutionCounts{}, domain.ErrPredictionUnavailable
	}

	decisions := make([]Decision, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPredictions)
	for i, name := range names {
		elev, _ := elevations.Lookup(name)
		g.Go(func() error {
			d, err := r.decide(gctx, req, elev, available, name)
			decisions[i] = d
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.ResolutionCounts{}, err
	}

	result := make(domain.RiskResult, len(names))
	counts := domain.ResolutionCounts{Neighborhoods: len(names)}
	for i, name := range names {
		d := decisions[i]
		if d.Source == domain.SourceModel {
			counts.Predicted++
			r.metrics.RiskResolutions.WithLabelValues("predicted").Inc()
		} else {
			counts.Fallback++
			r.metrics.RiskResolutions.WithLabelValues("fallback").Inc()
		}
		if d.Risk > 0 {
			counts.AtRisk++
		}

		key := r.keys.Key(name)
		if prev, dup := result[key]; dup {
			r.logger.Warn("neighborhood names share a key, keeping higher risk",
				"key", key, "name", name, "previous", prev, "risk", d.Risk)
			result[key] = math.Max(prev, d.Risk)
			continue
		}
		result[key] = d.Risk
	}

	r.logger.Info("risk resolved",
		"neighborhoods", counts.Neighborhoods,
		"predicted", counts.Predicted,
		"fallback", counts.Fallback,
		"at_risk", counts.AtRisk,
		"rainfall_mm", req.RainfallMM,
		"water_level_m", req.WaterLevelM,
	)
	return result, counts, nil
}

// Decide scores a single location with a known elevation.
func (r *Resolver) Decide(ctx context.Context, req domain.RiskRequest, elevationM float64) (Decision, error) {
	available := r.predictor.Available()
	if r.strict && !available {
		return Decision{}, domain.ErrPredictionUnavailable
	}
	return r.decide(ctx, req, elevationM, available, "")
}

func (r *Resolver) decide(ctx context.Context, req domain.RiskRequest, elevationM float64, available bool, name string) (Decision, error) {
	if available && domain.ValidElevation(elevationM) {
		score, err := r.predictor.Predict(ctx, domain.PredictionInput{
			RainfallMM:  req.RainfallMM,
			WaterLevelM: req.WaterLevelM,
			ElevationM:  elevationM,
		})
		if err == nil {
			return Decision{Score: score, Risk: r.policy.Binary(score), Source: domain.SourceModel}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return Decision{}, fmt.Errorf("predict %q: %w", name, err)
		}
		r.metrics.PredictorErrors.Inc()
		r.logger.Warn("prediction failed, using rainfall rule", "neighborhood", name, "error", err)
	}
	v := r.policy.Fallback(req.RainfallMM)
	return Decision{Score: v, Risk: v, Source: domain.SourceRainfallRule}, nil
}

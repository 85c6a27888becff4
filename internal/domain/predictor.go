package domain

import "context"

// PredictionInput holds the three model features.
type PredictionInput struct {
	RainfallMM  float64
	WaterLevelM float64
	ElevationM  float64
}

// Predictor scores flood risk. The score is unbounded; callers threshold it.
// Available is checked once per resolution instead of probing Predict.
type Predictor interface {
	Available() bool
	Predict(ctx context.Context, in PredictionInput) (float64, error)
}

// UnavailablePredictor is selected at startup when no model can be reached.
type UnavailablePredictor struct{}

func (UnavailablePredictor) Available() bool { return false }

func (UnavailablePredictor) Predict(context.Context, PredictionInput) (float64, error) {
	return 0, ErrPredictionUnavailable
}

// PredictorFunc adapts a plain function to Predictor.
type PredictorFunc func(ctx context.Context, in PredictionInput) (float64, error)

func (f PredictorFunc) Available() bool { return f != nil }

func (f PredictorFunc) Predict(ctx context.Context, in PredictionInput) (float64, error) {
	if f == nil {
		return 0, ErrPredictionUnavailable
	}
	return f(ctx, in)
}

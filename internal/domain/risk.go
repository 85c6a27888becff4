package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// RiskRequest carries the live inputs of one inference call.
type RiskRequest struct {
	RainfallMM  float64
	WaterLevelM float64
}

// Validate enforces rainfall >= 0 and finite inputs.
func (r RiskRequest) Validate() error {
	if math.IsNaN(r.RainfallMM) || math.IsInf(r.RainfallMM, 0) {
		return fmt.Errorf("%w: rainfall must be a finite number", ErrInvalidRequest)
	}
	if r.RainfallMM < 0 {
		return fmt.Errorf("%w: rainfall must be >= 0, got %g", ErrInvalidRequest, r.RainfallMM)
	}
	if math.IsNaN(r.WaterLevelM) || math.IsInf(r.WaterLevelM, 0) {
		return fmt.Errorf("%w: water level must be a finite number", ErrInvalidRequest)
	}
	return nil
}

// RiskResult maps a neighbourhood key to a risk value (0.0 or 1.0 for the map).
type RiskResult map[string]float64

// RiskSource names the rule that produced a risk value.
type RiskSource string

const (
	SourceModel        RiskSource = "model"
	SourceRainfallRule RiskSource = "rainfall_rule"
)

// RiskPolicy holds the decision thresholds.
type RiskPolicy struct {
	PredictionThreshold float64
	FallbackRainfallMM  float64
}

// DefaultRiskPolicy returns the thresholds the frontend was calibrated against.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{PredictionThreshold: 0.5, FallbackRainfallMM: 150}
}

// Binary thresholds a model score: strictly above the threshold is at risk.
func (p RiskPolicy) Binary(score float64) float64 {
	if score > p.PredictionThreshold {
		return 1
	}
	return 0
}

// Fallback applies the rainfall-only rule used when the model cannot be consulted.
func (p RiskPolicy) Fallback(rainfallMM float64) float64 {
	if rainfallMM > p.FallbackRainfallMM {
		return 1
	}
	return 0
}

// Classification returns the user-facing text for a point score.
func (p RiskPolicy) Classification(score float64) string {
	switch {
	case score < 0:
		return "ERRO: Falha no cálculo do modelo"
	case score > p.PredictionThreshold:
		return "ALERTA: Risco de Enchente Detectado"
	default:
		return "Sem Risco de Enchente"
	}
}

// RiskAssessment records one map resolution for downstream consumers.
type RiskAssessment struct {
	ID              string     `json:"id"`
	RainfallMM      float64    `json:"rainfall_mm"`
	WaterLevelM     float64    `json:"water_level_m"`
	Risks           RiskResult `json:"risks"`
	Neighborhoods   int        `json:"neighborhoods"`
	Predicted       int        `json:"predicted"`
	Fallback        int        `json:"fallback"`
	AtRisk          int        `json:"at_risk"`
	NameKeysVersion string     `json:"name_keys_version"`
	ComputedAt      time.Time  `json:"computed_at"`
}

// ResolutionCounts tallies how each neighbourhood's risk was decided.
type ResolutionCounts struct {
	Neighborhoods int
	Predicted     int
	Fallback      int
	AtRisk        int
}

// NewRiskAssessment stamps a resolution with a fresh id and the package clock.
func NewRiskAssessment(req RiskRequest, result RiskResult, counts ResolutionCounts, keysVersion string) RiskAssessment {
	return RiskAssessment{
		ID:              uuid.NewString(),
		RainfallMM:      req.RainfallMM,
		WaterLevelM:     req.WaterLevelM,
		Risks:           result,
		Neighborhoods:   counts.Neighborhoods,
		Predicted:       counts.Predicted,
		Fallback:        counts.Fallback,
		AtRisk:          counts.AtRisk,
		NameKeysVersion: keysVersion,
		ComputedAt:      Now().UTC(),
	}
}

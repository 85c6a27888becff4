// Package model calls the external flood regression model over HTTP.
//
// The model service exposes:
//
//	GET  /health   200 when the model is loaded
//	POST /predict  {"Rainfall_mm": 120, "WaterLevel_m": 3.1, "Elevation_m": 8.4} → {"score": 0.83}
//
// Feature names follow the columns the model was trained on.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// ErrProbing is returned by CheckReadiness until Probe has finished.
var ErrProbing = errors.New("model health probe in progress")

// Client implements domain.Predictor against the model service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
	healthy        atomic.Bool
	probed         atomic.Bool
}

// NewClient creates a model client. baseURL must not end in a slash.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics:        metrics,
		logger:         logger,
		initialBackoff: 250 * time.Millisecond,
		maxBackoff:     2 * time.Second,
	}
}

type predictRequest struct {
	RainfallMM  float64 `json:"Rainfall_mm"`
	WaterLevelM float64 `json:"WaterLevel_m"`
	ElevationM  float64 `json:"Elevation_m"`
}

type predictResponse struct {
	Score      *float64 `json:"score"`
	Prediction *float64 `json:"prediction"`
}

// Available reports whether the model answered Probe. Until then, and after a
// failed probe, the resolver uses the rainfall rule.
func (c *Client) Available() bool {
	return c.configured() && c.healthy.Load()
}

func (c *Client) configured() bool {
	return c != nil && c.baseURL != ""
}

// Probe runs HealthCheck up to attempts times with capped exponential backoff
// and records the outcome. It is meant to run in the background at startup.
func (c *Client) Probe(ctx context.Context, attempts int) error {
	defer c.probed.Store(true)

	backoff := c.initialBackoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.HealthCheck(ctx); err == nil {
			c.healthy.Store(true)
			c.metrics.PredictorAvailable.Set(1)
			c.logger.Info("prediction model available", "url", c.baseURL)
			return nil
		}
		c.logger.Warn("prediction model health check failed", "attempt", attempt, "error", err)
		if attempt == attempts || !sharedretry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = sharedretry.NextBackoff(backoff, c.maxBackoff)
	}

	c.metrics.PredictorAvailable.Set(0)
	c.logger.Error("prediction model unavailable, risk will use the rainfall rule only", "url", c.baseURL, "error", err)
	return err
}

// CheckReadiness reports ready once Probe has finished, whatever its outcome.
func (c *Client) CheckReadiness(_ context.Context) error {
	if !c.probed.Load() {
		return ErrProbing
	}
	return nil
}

// HealthCheck verifies the model service is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// Predict scores one (rainfall, water level, elevation) triple.
func (c *Client) Predict(ctx context.Context, in domain.PredictionInput) (float64, error) {
	if !c.configured() {
		return 0, domain.ErrPredictionUnavailable
	}

	body, err := json.Marshal(predictRequest{
		RainfallMM:  in.RainfallMM,
		WaterLevelM: in.WaterLevelM,
		ElevationM:  in.ElevationM,
	})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.PredictDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("model service error: status %d: %s", resp.StatusCode, msg)
	}

	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	score := pr.Score
	if score == nil {
		score = pr.Prediction
	}
	if score == nil || math.IsNaN(*score) {
		return 0, fmt.Errorf("model response has no score")
	}
	c.logger.Debug("model prediction", "rainfall_mm", in.RainfallMM, "water_level_m", in.WaterLevelM,
		"elevation_m", in.ElevationM, "score", *score)
	return *score, nil
}

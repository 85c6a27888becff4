package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/mapbox"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/model"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geocache"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
	"github.com/couchcryptid/flood-risk-service/internal/risk"
)

// modelHealthAttempts bounds how long startup waits for the model service.
const modelHealthAttempts = 4

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	p, normalizer, err := pipeline.NewFromConfig(cfg, logger, metrics)
	if err != nil {
		logger.Error("invalid geodata configuration", "error", err)
		os.Exit(1)
	}
	cache := geocache.New(p, cfg.GeodataLoadTimeout, cfg.StrictMode, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The model is probed in the background once the server is up; until then
	// risk uses the rainfall rule and /readyz reports not ready.
	var (
		predictor   domain.Predictor = domain.UnavailablePredictor{}
		modelClient *model.Client
	)
	ready := observability.Readiness{cache}
	if cfg.ModelURL != "" {
		modelClient = model.NewClient(cfg.ModelURL, cfg.ModelTimeout, metrics, logger)
		predictor = modelClient
		ready = append(ready, modelClient)
	} else {
		logger.Warn("MODEL_URL not set, risk will use the rainfall rule only")
		metrics.PredictorAvailable.Set(0)
	}
	policy := domain.RiskPolicy{PredictionThreshold: cfg.PredictionThreshold, FallbackRainfallMM: cfg.FallbackRainfallMM}
	resolver := risk.NewResolver(predictor, domain.DefaultNameKeys(), policy, cfg.StrictMode, logger, metrics)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxCountry, cfg.MapboxTimeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var (
		publisher risk.Publisher
		writer    *kafkaadapter.Writer
	)
	if cfg.RiskPublishEnabled {
		writer = kafkaadapter.NewWriter(cfg, metrics, logger)
		publisher = writer
		logger.Info("risk assessment publishing enabled", "topic", cfg.KafkaRiskTopic, "brokers", cfg.KafkaBrokers)
	}

	svc := risk.NewService(cache, resolver, normalizer, geocoder, publisher, logger, metrics)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.WriteTimeout(cfg.GeodataLoadTimeout), svc, cache, ready, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if modelClient != nil {
		go func() { _ = modelClient.Probe(ctx, modelHealthAttempts) }()
	}

	// Warm the geodata cache; /readyz reports not ready until this finishes.
	go func() {
		if _, err := cache.Get(ctx); err != nil {
			logger.Error("geodata warm-up failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

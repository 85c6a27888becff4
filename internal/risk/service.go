package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/geo"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/pipeline"
)

// GeoSource supplies the cached pipeline result.
type GeoSource interface {
	Get(ctx context.Context) (*pipeline.Result, error)
}

// Publisher emits map assessments to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, a domain.RiskAssessment) error
}

// PointRequest asks for the risk at one location. Exactly one way of locating
// it is used, in this order: ElevationM, Lat/Lon, Address.
type PointRequest struct {
	domain.RiskRequest
	ElevationM *float64
	Lat        *float64
	Lon        *float64
	Address    string
}

// PointResult is the outcome of a point request.
type PointResult struct {
	Score          float64
	Classification string
	Source         domain.RiskSource
	// Neighborhood and Key are empty when the location is outside every polygon.
	Neighborhood string
	Key          string
	// ElevationM is nil when no elevation could be determined.
	ElevationM *float64
	Lat        *float64
	Lon        *float64
	Address    string
}

// NeighborhoodInfo describes one known neighbourhood.
type NeighborhoodInfo struct {
	Name       string
	Key        string
	ElevationM *float64
}

// Service answers risk requests from the cached geodata.
type Service struct {
	cache      GeoSource
	resolver   *Resolver
	normalizer *geo.Normalizer
	geocoder   domain.Geocoder
	publisher  Publisher
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewService wires the risk use cases. geocoder and publisher may be nil.
func NewService(cache GeoSource, resolver *Resolver, normalizer *geo.Normalizer, geocoder domain.Geocoder,
	publisher Publisher, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		cache:      cache,
		resolver:   resolver,
		normalizer: normalizer,
		geocoder:   geocoder,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// MapRisk resolves every known neighbourhood and publishes the assessment when
// a publisher is configured. Publishing failures are logged, not returned.
func (s *Service) MapRisk(ctx context.Context, req domain.RiskRequest) (domain.RiskResult, error) {
	if err := req.Validate(); err != nil {
		s.metrics.RiskRequests.WithLabelValues("map", "invalid").Inc()
		return nil, err
	}
	res, err := s.cache.Get(ctx)
	if err != nil {
		s.metrics.RiskRequests.WithLabelValues("map", "unavailable").Inc()
		return nil, fmt.Errorf("load geodata: %w", err)
	}

	result, counts, err := s.resolver.Resolve(ctx, req, res.Neighborhoods, res.Elevations)
	if err != nil {
		s.metrics.RiskRequests.WithLabelValues("map", "unavailable").Inc()
		return nil, err
	}
	s.metrics.RiskRequests.WithLabelValues("map", "ok").Inc()

	if s.publisher != nil {
		a := domain.NewRiskAssessment(req, result, counts, s.resolver.Keys().Version)
		if err := s.publisher.Publish(ctx, a); err != nil {
			s.logger.Error("publish risk assessment", "id", a.ID, "error", err)
		}
	}
	return result, nil
}

// PointRisk scores a single location.
func (s *Service) PointRisk(ctx context.Context, req PointRequest) (PointResult, error) {
	out, err := s.pointRisk(ctx, req)
	switch {
	case err == nil:
		s.metrics.RiskRequests.WithLabelValues("point", "ok").Inc()
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrLocationNotFound):
		s.metrics.RiskRequests.WithLabelValues("point", "invalid").Inc()
	default:
		s.metrics.RiskRequests.WithLabelValues("point", "unavailable").Inc()
	}
	return out, err
}

func (s *Service) pointRisk(ctx context.Context, req PointRequest) (PointResult, error) {
	if err := req.Validate(); err != nil {
		return PointResult{}, err
	}

	var out PointResult
	elevation := 0.0
	switch {
	case req.ElevationM != nil:
		if math.IsNaN(*req.ElevationM) || math.IsInf(*req.ElevationM, 0) {
			return PointResult{}, fmt.Errorf("%w: elevation must be a finite number", domain.ErrInvalidRequest)
		}
		elevation = *req.ElevationM
		out.ElevationM = req.ElevationM
	case req.Lat != nil || req.Lon != nil || req.Address != "":
		lat, lon, err := s.locate(ctx, req, &out)
		if err != nil {
			return PointResult{}, err
		}
		out.Lat, out.Lon = &lat, &lon
		if err := s.elevationAt(ctx, lat, lon, &out); err != nil {
			return PointResult{}, err
		}
		if out.ElevationM != nil {
			elevation = *out.ElevationM
		}
	default:
		return PointResult{}, fmt.Errorf("%w: one of elevation, coordinates or address is required", domain.ErrInvalidRequest)
	}

	d, err := s.resolver.Decide(ctx, req.RiskRequest, elevation)
	if err != nil {
		return PointResult{}, err
	}
	out.Score = d.Score
	out.Source = d.Source
	out.Classification = s.resolver.Policy().Classification(d.Score)
	return out, nil
}

// locate returns WGS84 coordinates from the request, geocoding the address
// when no coordinates were given.
func (s *Service) locate(ctx context.Context, req PointRequest, out *PointResult) (lat, lon float64, err error) {
	if req.Lat != nil || req.Lon != nil {
		if req.Lat == nil || req.Lon == nil {
			return 0, 0, fmt.Errorf("%w: latitude and longitude must be given together", domain.ErrInvalidRequest)
		}
		lat, lon = *req.Lat, *req.Lon
		if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return 0, 0, fmt.Errorf("%w: coordinates out of range", domain.ErrInvalidRequest)
		}
		return lat, lon, nil
	}

	if s.geocoder == nil {
		return 0, 0, fmt.Errorf("%w: address lookup is not enabled", domain.ErrInvalidRequest)
	}
	g, err := s.geocoder.ForwardGeocode(ctx, req.Address)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("%w: %w", domain.ErrGeocodingFailed, err)
	}
	if g.Lat == 0 && g.Lon == 0 {
		return 0, 0, fmt.Errorf("%w: %q", domain.ErrLocationNotFound, req.Address)
	}
	out.Address = g.FormattedAddress
	return g.Lat, g.Lon, nil
}

// elevationAt samples the cached grid at a WGS84 location. A non-positive or
// missing reading falls back to the mean of the containing neighbourhood.
func (s *Service) elevationAt(ctx context.Context, lat, lon float64, out *PointResult) error {
	res, err := s.cache.Get(ctx)
	if err != nil {
		return fmt.Errorf("load geodata: %w", err)
	}
	x, y, err := s.normalizer.Point(geo.WGS84, lon, lat)
	if err != nil {
		return fmt.Errorf("project point: %w", err)
	}

	if res.Index != nil {
		if name, ok := res.Index.Locate(x, y); ok {
			out.Neighborhood = name
			out.Key = s.resolver.Keys().Key(name)
		}
	}
	if res.Grid != nil {
		if v := res.Grid.Sample(x, y); domain.ValidElevation(v) {
			out.ElevationM = &v
			return nil
		}
	}
	if out.Neighborhood != "" {
		if v, ok := res.Elevations.Lookup(out.Neighborhood); ok {
			out.ElevationM = &v
		}
	}
	return nil
}

// ListNeighborhoods returns every known neighbourhood in layer order.
func (s *Service) ListNeighborhoods(ctx context.Context) ([]NeighborhoodInfo, error) {
	res, err := s.cache.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load geodata: %w", err)
	}
	out := make([]NeighborhoodInfo, 0, len(res.Neighborhoods))
	for _, name := range res.Neighborhoods {
		info := NeighborhoodInfo{Name: name, Key: s.resolver.Keys().Key(name)}
		if v, ok := res.Elevations.Lookup(name); ok {
			info.ElevationM = &v
		}
		out = append(out, info)
	}
	return out, nil
}

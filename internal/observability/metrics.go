package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Geodata pipeline metrics.
	PipelineRuns         *prometheus.CounterVec // labels: outcome={success,degraded,error}
	PipelineDuration     prometheus.Histogram
	PointsLoaded         prometheus.Counter
	PointsJoined         prometheus.Counter
	PointsDropped        prometheus.Counter
	Samples              *prometheus.CounterVec // labels: validity={valid,invalid}
	NeighborhoodsLoaded  prometheus.Gauge
	NeighborhoodsIndexed prometheus.Gauge
	PolygonsRepaired     prometheus.Counter

	// Geo-cache metrics.
	CacheLoads    *prometheus.CounterVec // labels: outcome={success,empty,error,refreshed,refresh_error}
	CacheRequests *prometheus.CounterVec // labels: result={hit,miss}
	CacheReady    prometheus.Gauge

	// Risk resolution metrics.
	RiskRequests       *prometheus.CounterVec // labels: kind={map,point}, outcome={ok,invalid,unavailable}
	RiskResolutions    *prometheus.CounterVec // labels: path={predicted,fallback}
	PredictorErrors    prometheus.Counter
	PredictorAvailable prometheus.Gauge
	PredictDuration    prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward}
	GeocodeEnabled     prometheus.Gauge

	// Assessment publishing metrics.
	AssessmentsPublished *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Geodata pipeline runs by outcome.",
		}, []string{"outcome"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Duration of a complete load, join, sample and aggregate run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PointsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_loaded_total",
			Help:      "Road-network nodes read from disk.",
		}),
		PointsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_joined_total",
			Help:      "Road-network nodes attributed to a neighbourhood.",
		}),
		PointsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_dropped_total",
			Help:      "Road-network nodes outside every neighbourhood polygon.",
		}),
		Samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elevation_samples_total",
			Help:      "Raster readings by validity.",
		}, []string{"validity"}),
		NeighborhoodsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "neighborhoods_loaded",
			Help:      "Neighbourhoods in the cached polygon layer.",
		}),
		NeighborhoodsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "neighborhoods_with_elevation",
			Help:      "Neighbourhoods with at least one valid elevation sample.",
		}),
		PolygonsRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_repaired_total",
			Help:      "Invalid neighbourhood polygons rebuilt with GEOS.",
		}),
		CacheLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocache_loads_total",
			Help:      "Geo-cache load attempts by outcome.",
		}, []string{"outcome"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocache_requests_total",
			Help:      "Geo-cache lookups by result.",
		}, []string{"result"}),
		CacheReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocache_ready",
			Help:      "1 once a geodata result is cached.",
		}),
		RiskRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_requests_total",
			Help:      "Risk requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RiskResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_resolutions_total",
			Help:      "Per-neighbourhood risk decisions by path.",
		}, []string{"path"}),
		PredictorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictor_errors_total",
			Help:      "Model calls that failed and fell back to the rainfall rule.",
		}),
		PredictorAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predictor_available",
			Help:      "1 when a prediction model is configured and reachable.",
		}),
		PredictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_duration_seconds",
			Help:      "Model service request duration in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when address geocoding is enabled, 0 otherwise.",
		}),
		AssessmentsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_published_total",
			Help:      "Risk assessments written to Kafka by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PipelineRuns,
		m.PipelineDuration,
		m.PointsLoaded,
		m.PointsJoined,
		m.PointsDropped,
		m.Samples,
		m.NeighborhoodsLoaded,
		m.NeighborhoodsIndexed,
		m.PolygonsRepaired,
		m.CacheLoads,
		m.CacheRequests,
		m.CacheReady,
		m.RiskRequests,
		m.RiskResolutions,
		m.PredictorErrors,
		m.PredictorAvailable,
		m.PredictDuration,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.AssessmentsPublished,
	}
}

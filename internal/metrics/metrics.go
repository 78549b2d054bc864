package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kuyugama/ratelimit-go/internal/config"
)

// Collector collects and exposes Prometheus metrics for the rate limit
// engine.
type Collector struct {
	config *config.MetricsConfig
	logger *zap.Logger

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Decision metrics
	decisionsTotal    *prometheus.CounterVec
	decisionDuration  *prometheus.HistogramVec
	rankPromotions    *prometheus.CounterVec
	ignoreActivations *prometheus.CounterVec
	activeBlocks      prometheus.Gauge

	// Storage metrics
	storeOperationsTotal *prometheus.CounterVec
	storeOperationErrors *prometheus.CounterVec

	// Database metrics
	dbConnectionsActive prometheus.Gauge
	dbQueriesTotal      *prometheus.CounterVec
	dbQueryDuration     *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector. When cfg.Enabled is false,
// the returned collector silently no-ops every recording method.
func NewCollector(cfg *config.MetricsConfig, logger *zap.Logger) *Collector {
	if !cfg.Enabled {
		logger.Info("metrics collection disabled")
		return &Collector{config: cfg, logger: logger}
	}

	collector := &Collector{
		config: cfg,
		logger: logger,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"method", "endpoint"},
		),

		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_decisions_total",
				Help: "Total number of rate limit decisions by outcome",
			},
			[]string{"outcome", "endpoint"}, // outcome: admitted/blocked/delayed/ignored
		),

		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_decision_duration_seconds",
				Help:    "Time spent evaluating a rate limit decision",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
			},
			[]string{"endpoint"},
		),

		rankPromotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_rank_promotions_total",
				Help: "Total number of identity rank promotions",
			},
			[]string{"endpoint"},
		),

		ignoreActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_ignore_activations_total",
				Help: "Total number of ignore intents applied",
			},
			[]string{"scope"}, // scope: identity/global
		),

		activeBlocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratelimit_active_blocks",
				Help: "Approximate count of currently blocked identity/endpoint pairs",
			},
		),

		storeOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation"}, // load_global/save_global/load_local/save_local/load_rank/save_rank
		),

		storeOperationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_store_operation_errors_total",
				Help: "Total number of failed store operations",
			},
			[]string{"operation"},
		),

		dbConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ratelimit_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		dbQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratelimit_db_queries_total",
				Help: "Total number of audit database queries",
			},
			[]string{"operation", "result"},
		),

		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_db_query_duration_seconds",
				Help:    "Audit database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation"},
		),
	}

	collector.register()

	logger.Info("metrics collector initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.String("path", cfg.Path))

	return collector
}

func (c *Collector) register() {
	if !c.config.Enabled {
		return
	}

	prometheus.MustRegister(
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.decisionsTotal,
		c.decisionDuration,
		c.rankPromotions,
		c.ignoreActivations,
		c.activeBlocks,
		c.storeOperationsTotal,
		c.storeOperationErrors,
		c.dbConnectionsActive,
		c.dbQueriesTotal,
		c.dbQueryDuration,
	)
}

// RecordHTTPRequest records HTTP request metrics.
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeLabel(statusCode)).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDecision records a single rate-limit decision outcome.
func (c *Collector) RecordDecision(outcome, endpoint string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.decisionsTotal.WithLabelValues(outcome, endpoint).Inc()
	c.decisionDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRankPromotion records an identity rank promotion for an endpoint.
func (c *Collector) RecordRankPromotion(endpoint string) {
	if !c.config.Enabled {
		return
	}
	c.rankPromotions.WithLabelValues(endpoint).Inc()
}

// RecordIgnoreActivation records an ignore intent being applied.
func (c *Collector) RecordIgnoreActivation(scope string) {
	if !c.config.Enabled {
		return
	}
	c.ignoreActivations.WithLabelValues(scope).Inc()
}

// SetActiveBlocks updates the active-blocks gauge.
func (c *Collector) SetActiveBlocks(count int) {
	if !c.config.Enabled {
		return
	}
	c.activeBlocks.Set(float64(count))
}

// RecordStoreOperation records a store call and whether it errored.
func (c *Collector) RecordStoreOperation(operation string, err error) {
	if !c.config.Enabled {
		return
	}
	c.storeOperationsTotal.WithLabelValues(operation).Inc()
	if err != nil {
		c.storeOperationErrors.WithLabelValues(operation).Inc()
	}
}

// RecordDBQuery records an audit database query.
func (c *Collector) RecordDBQuery(operation, result string, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.dbQueriesTotal.WithLabelValues(operation, result).Inc()
	c.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnectionsActive updates the active database connections metric.
func (c *Collector) UpdateDBConnectionsActive(count int) {
	if !c.config.Enabled {
		return
	}
	c.dbConnectionsActive.Set(float64(count))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}

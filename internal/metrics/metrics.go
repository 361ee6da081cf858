package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the opsdesk session core
type Metrics struct {
	// Sign-in metrics
	SignIns        *prometheus.CounterVec
	SignInDuration *prometheus.HistogramVec
	SignOuts       *prometheus.CounterVec

	// Tenant switch metrics
	TenantSwitches      *prometheus.CounterVec
	TenantSwitchRetries prometheus.Counter
	TenantRefreshes     *prometheus.CounterVec

	// Permission cache metrics
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	CacheStaleFallbacks prometheus.Counter
	CacheInvalidations  *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Sign-in metrics
		SignIns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_sign_ins_total",
				Help: "Total number of sign-in attempts",
			},
			[]string{"success"},
		),
		SignInDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsdesk_sign_in_duration_seconds",
				Help:    "Sign-in duration in seconds, including the batched context bootstrap",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"success"},
		),
		SignOuts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_sign_outs_total",
				Help: "Total number of sign-outs by reason",
			},
			[]string{"reason"},
		),

		// Tenant switch metrics
		TenantSwitches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_tenant_switches_total",
				Help: "Total number of tenant switch attempts",
			},
			[]string{"success"},
		),
		TenantSwitchRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_tenant_switch_verify_retries_total",
				Help: "Total number of token claim verification retries during tenant switches",
			},
		),
		TenantRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_tenant_refreshes_total",
				Help: "Total number of tenant directory refreshes",
			},
			[]string{"success"},
		),

		// Permission cache metrics
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_permission_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_permission_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
		),
		CacheStaleFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_permission_cache_stale_fallbacks_total",
				Help: "Total number of times a stale cache entry was served after a fetch failure",
			},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_permission_cache_invalidations_total",
				Help: "Total number of permission cache invalidations by trigger",
			},
			[]string{"trigger"},
		),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opsdesk_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		// Error metrics
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_errors_total",
				Help: "Total number of structured errors by code",
			},
			[]string{"error_code"},
		),
	}
}

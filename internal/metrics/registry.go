package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	defaultMu sync.Mutex
	defaultM  *Metrics
)

// GetDefault returns the process-wide metrics instance registered on
// the global Prometheus registry, creating it on first use. serve uses
// this; tests construct isolated instances with NewRegistry instead.
func GetDefault() *Metrics {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultM == nil {
		defaultM = NewMetrics(prometheus.DefaultRegisterer)
	}
	return defaultM
}

// NewRegistry creates an isolated registry with a fresh metrics
// instance registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// Handler serves the global registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific registry, for tests that need to scrape
// an isolated instance.
func HandlerFor(reg prometheus.Gatherer, opts promhttp.HandlerOpts) http.Handler {
	return promhttp.HandlerFor(reg, opts)
}

// Reset drops the process-wide instance so the next GetDefault builds
// a new one. The global registry still holds the old collectors, so
// this is only safe in tests that never scrape it.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultM = nil
}

// Package metrics exposes catalog counters in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"machine-catalog-backend/internal/apperr"
)

// Metrics holds every collector of the process on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	mutations     *prometheus.CounterVec
	blobFailures  prometheus.Counter
	cacheEvents   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the catalog collectors plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "mutations_total",
			Help:      "Catalog mutations by operation and outcome kind.",
		}, []string{"op", "outcome"}),
		blobFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "blob_delete_failures_total",
			Help:      "Image blobs that could not be deleted after their machine changed.",
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "query_cache_events_total",
			Help:      "Query cache lookups by result.",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catalog",
			Name:      "push_notifications_total",
			Help:      "Push notifications by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.mutations,
		m.blobFailures,
		m.cacheEvents,
		m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Mutation counts one mutation of op that ended with err.
func (m *Metrics) Mutation(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	m.mutations.WithLabelValues(op, outcome).Inc()
}

// BlobDeleteFailed counts one best-effort blob deletion that failed.
func (m *Metrics) BlobDeleteFailed() {
	if m == nil {
		return
	}
	m.blobFailures.Inc()
}

// CacheEvent counts one query cache event: hit, stale, miss, shared,
// prefetch or prefetch_dropped.
func (m *Metrics) CacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// Notification counts one push delivery outcome.
func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

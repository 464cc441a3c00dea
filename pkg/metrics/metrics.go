// Package metrics provides Prometheus metrics instrumentation for kestrel's
// process tree, hybrid memory search, and LLM router.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for kestrel. A nil *Manager is
// valid and every recorder method is a no-op on it, so callers that don't
// care about metrics can pass nil instead of threading a disabled instance
// around.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	// Process supervision: one gauge per live process kind, one counter
	// per (kind, event) pair (spawned/completed/failed/cancelled).
	processActive *prometheus.GaugeVec
	processEvents *prometheus.CounterVec

	// Hybrid memory search fusion: one counter per candidate source that
	// contributed to a fused result set, one histogram over the fused
	// recall's total latency.
	searchFusedTotal    *prometheus.CounterVec
	searchFusedDuration prometheus.Histogram

	// LLM router: counts every fallback hop taken after a model's initial
	// call failed.
	routerFallbackTotal *prometheus.CounterVec

	// HTTP admin surface.
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpConnections prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	SearchFusionDurationBuckets []float64
	HTTPDurationBuckets         []float64
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                     true,
		Port:                        9091,
		Path:                        "/metrics",
		SearchFusionDurationBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		HTTPDurationBuckets:         []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}
}

// NewManager creates a new metrics manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{enabled: false}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Manager{registry: registry, enabled: true}

	m.processActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kestrel_process_supervisor_active",
		Help: "Number of currently live processes, by kind (channel/branch/worker/compactor/cortex).",
	}, []string{"kind"})
	m.processEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_process_events_total",
		Help: "Process lifecycle events, by kind and event (spawned/completed/failed/cancelled).",
	}, []string{"kind", "event"})
	m.searchFusedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_memory_search_fused_total",
		Help: "Hybrid memory searches, by candidate source contributing to the fused result (dense/lexical/graph).",
	}, []string{"source"})
	m.searchFusedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_memory_search_fusion_duration_seconds",
		Help:    "Wall-clock latency of a hybrid memory recall, end to end.",
		Buckets: cfg.SearchFusionDurationBuckets,
	})
	m.routerFallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_llm_router_fallback_total",
		Help: "LLM router fallback hops, by the model that failed and the model tried next.",
	}, []string{"from_model", "to_model"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_http_requests_total",
		Help: "Admin HTTP surface requests, by method, path, and status.",
	}, []string{"method", "path", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_http_request_duration_seconds",
		Help:    "Admin HTTP surface request latency.",
		Buckets: cfg.HTTPDurationBuckets,
	}, []string{"method", "path"})
	m.httpConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kestrel_http_connections_active",
		Help: "Currently open admin HTTP connections.",
	})

	registry.MustRegister(
		m.processActive, m.processEvents,
		m.searchFusedTotal, m.searchFusedDuration,
		m.routerFallbackTotal,
		m.httpRequests, m.httpDuration, m.httpConnections,
	)

	return m
}

// NoOpManager returns a disabled metrics manager.
func NoOpManager() *Manager { return &Manager{enabled: false} }

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool { return m != nil && m.enabled }

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.Enabled() {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server on the configured port.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}

// RecordProcessSpawn bumps the active gauge and the spawned counter for kind.
func (m *Manager) RecordProcessSpawn(kind string) {
	if !m.Enabled() {
		return
	}
	m.processActive.WithLabelValues(kind).Inc()
	m.processEvents.WithLabelValues(kind, "spawned").Inc()
}

// RecordProcessExit decrements the active gauge and records event
// ("completed", "failed", or "cancelled") for kind.
func (m *Manager) RecordProcessExit(kind, event string) {
	if !m.Enabled() {
		return
	}
	m.processActive.WithLabelValues(kind).Dec()
	m.processEvents.WithLabelValues(kind, event).Inc()
}

// RecordSearchFusion records which candidate sources contributed to a fused
// hybrid search result and the recall's total latency.
func (m *Manager) RecordSearchFusion(sources []string, dur time.Duration) {
	if !m.Enabled() {
		return
	}
	for _, s := range sources {
		m.searchFusedTotal.WithLabelValues(s).Inc()
	}
	m.searchFusedDuration.Observe(dur.Seconds())
}

// RecordRouterFallback records one fallback hop from one model to the next.
func (m *Manager) RecordRouterFallback(fromModel, toModel string) {
	if !m.Enabled() {
		return
	}
	m.routerFallbackTotal.WithLabelValues(fromModel, toModel).Inc()
}

// ObserveHTTPRequest records one completed admin HTTP request.
func (m *Manager) ObserveHTTPRequest(method, path string, status int, dur time.Duration) {
	if !m.Enabled() {
		return
	}
	m.httpRequests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(dur.Seconds())
}

// IncHTTPConnections and DecHTTPConnections track open admin connections.
func (m *Manager) IncHTTPConnections() {
	if m.Enabled() {
		m.httpConnections.Inc()
	}
}

func (m *Manager) DecHTTPConnections() {
	if m.Enabled() {
		m.httpConnections.Dec()
	}
}

package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestNewManager(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true

	m := NewManager(cfg)
	if m == nil {
		t.Fatal("NewManager returned nil")
	}
	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
}

func TestNewManager_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	m := NewManager(cfg)
	if m.Enabled() {
		t.Error("expected metrics to be disabled")
	}
}

func TestMetricsHandler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	m := NewManager(cfg)

	m.RecordProcessSpawn("channel")
	m.RecordProcessExit("channel", "completed")
	m.RecordSearchFusion([]string{"dense", "lexical"}, 5*time.Millisecond)
	m.RecordRouterFallback("gpt-4", "gpt-3.5-turbo")
	m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expected := []string{
		"kestrel_process_supervisor_active",
		"kestrel_process_events_total",
		"kestrel_memory_search_fused_total",
		"kestrel_memory_search_fusion_duration_seconds",
		"kestrel_llm_router_fallback_total",
		"kestrel_http_requests_total",
	}
	for _, metric := range expected {
		if !contains(body, metric) {
			t.Errorf("expected metric %s not found in output", metric)
		}
	}
}

func TestMetricsHandler_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	m := NewManager(cfg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 when disabled, got %d", w.Code)
	}
}

func TestStartServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Port = 19091

	m := NewManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := m.StartServer(ctx, cfg.Port, cfg.Path); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:19091/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		t.Errorf("server error: %v", err)
	case <-time.After(1 * time.Second):
	}
}

func TestNoOpManager(t *testing.T) {
	m := NoOpManager()
	if m.Enabled() {
		t.Error("NoOpManager should not be enabled")
	}

	// None of these should panic.
	m.RecordProcessSpawn("channel")
	m.RecordProcessExit("channel", "completed")
	m.RecordSearchFusion([]string{"dense"}, time.Second)
	m.RecordRouterFallback("a", "b")
	m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.IncHTTPConnections()
	m.DecHTTPConnections()
}

func TestNilManager(t *testing.T) {
	var m *Manager
	if m.Enabled() {
		t.Error("nil *Manager should report disabled")
	}
	// None of these should panic on a nil receiver.
	m.RecordProcessSpawn("channel")
	m.RecordRouterFallback("a", "b")
}

func BenchmarkRecordProcessSpawn(b *testing.B) {
	m := NewManager(DefaultConfig())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordProcessSpawn("worker")
	}
}

func BenchmarkRecordSearchFusion(b *testing.B) {
	m := NewManager(DefaultConfig())
	sources := []string{"dense", "lexical", "graph"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordSearchFusion(sources, 2*time.Millisecond)
	}
}

func BenchmarkNoOpRecording(b *testing.B) {
	m := NoOpManager()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordProcessSpawn("worker")
		m.RecordRouterFallback("a", "b")
	}
}

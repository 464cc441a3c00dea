// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
)

// StatusReporter is implemented by the process supervising an agent host
// (cmd/kestrel's AgentHost), reporting whether it is accepting traffic and
// a JSON-serializable snapshot of its running process tree.
type StatusReporter interface {
	Healthy() bool
	Status() any
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	hosts []StatusReporter
}

// NewHealthHandler creates a new health handler over one or more agent hosts.
func NewHealthHandler(hosts ...StatusReporter) *HealthHandler {
	return &HealthHandler{hosts: hosts}
}

// Health handles the /health endpoint (liveness probe). The process is
// alive as long as it can answer at all, regardless of agent host state.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint (readiness probe): every configured
// agent host must report healthy.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	for _, host := range h.hosts {
		if !host.Healthy() {
			jsonStatus(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
	}
	jsonOK(w, map[string]bool{"ready": true})
}

// Status handles the /status endpoint, reporting every agent host's
// process-tree snapshot.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	statuses := make([]any, len(h.hosts))
	for i, host := range h.hosts {
		statuses[i] = host.Status()
	}
	jsonOK(w, map[string]any{"agents": statuses})
}

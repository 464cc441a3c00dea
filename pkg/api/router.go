// Package api provides the admin HTTP surface: health/readiness/status
// probes and a memory-hub inspection API, mounted alongside (not instead
// of) the messaging adapters that carry actual conversation traffic.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/api/handlers"
	"github.com/kestrel-run/kestrel/pkg/api/middleware"
	"github.com/kestrel-run/kestrel/pkg/logger"

	_ "github.com/kestrel-run/kestrel/docs/swagger" // Import generated docs
)

// Handlers holds all HTTP handlers mounted by NewRouter.
type Handlers struct {
	// Health reports liveness/readiness/status across every agent host.
	Health *handlers.HealthHandler

	// Memory is keyed by agent ID; each agent's hub is inspected
	// independently since memory is never shared across agents.
	Memory map[string]*handlers.MemoryHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.ReadTimeout))

	RegisterRoutes(r, handlers)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, handlers *Handlers) {
	r.Route("/api/v1/agents/{agentID}", func(r chi.Router) {
		r.Route("/memory", func(r chi.Router) {
			r.Post("/", dispatchToAgent(handlers.Memory, (*memHandler).SaveMemory))
			r.Post("/search", dispatchToAgent(handlers.Memory, (*memHandler).SearchMemory))
			r.Post("/forget", dispatchToAgent(handlers.Memory, (*memHandler).ForgetMemory))
			r.Get("/stats", dispatchToAgent(handlers.Memory, (*memHandler).Stats))
		})
	})

	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}

	r.Get("/swagger/*", httpSwagger.WrapHandler)
}

type memHandler = handlers.MemoryHandler

// dispatchToAgent resolves {agentID} from the route and delegates to that
// agent's memory handler, 404ing if no such agent is registered.
func dispatchToAgent(byAgent map[string]*memHandler, fn func(*memHandler, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := chi.URLParam(r, "agentID")
		h, ok := byAgent[agentID]
		if !ok {
			http.Error(w, "unknown agent", http.StatusNotFound)
			return
		}
		fn(h, w, r)
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kestrel-run/kestrel/pkg/api/response"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/memory"
)

// MemoryHandler exposes an agent's hybrid memory hub over HTTP, for
// operator tooling and debugging (spec.md §4.1 "Memory Search").
type MemoryHandler struct {
	hub    *memory.MemoryHub
	logger memoryLogger
}

type memoryLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewMemoryHandler creates a new memory handler.
func NewMemoryHandler(hub *memory.MemoryHub, log memoryLogger) *MemoryHandler {
	return &MemoryHandler{
		hub:    hub,
		logger: log,
	}
}

// --- Request/Response types ---

type saveMemoryRequest struct {
	Content    string            `json:"content"`
	MemoryType string            `json:"memory_type"`
	Importance float64           `json:"importance"`
	Source     string            `json:"source,omitempty"`
	ChannelID  string            `json:"channel_id,omitempty"`
	Vector     []float32         `json:"vector,omitempty"`
}

type saveMemoryResponse struct {
	ID string `json:"id"`
}

type searchRequest struct {
	Query               string    `json:"query,omitempty"`
	Vector              []float32 `json:"vector,omitempty"`
	K                   int       `json:"k,omitempty"`
	ChannelScope        string    `json:"channel_scope,omitempty"`
	ImportanceMin       float64   `json:"importance_min,omitempty"`
	IncludeAssociations bool      `json:"include_associations,omitempty"`
}

type forgetRequest struct {
	IDs []string `json:"ids"`
}

type forgetResponse struct {
	Deleted int `json:"deleted"`
}

// SaveMemory handles POST /api/v1/agents/{agentID}/memory
func (h *MemoryHandler) SaveMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req saveMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", getRequestID(ctx))
		return
	}
	if req.Content == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "content is required", getRequestID(ctx))
		return
	}

	m := &domain.Memory{
		Content:    req.Content,
		MemoryType: domain.MemoryType(req.MemoryType),
		Importance: req.Importance,
		Source:     req.Source,
		ChannelID:  req.ChannelID,
	}
	if m.MemoryType == "" {
		m.MemoryType = domain.MemoryFact
	}

	if err := h.hub.Save(ctx, m); err != nil {
		h.logger.Error("failed to save memory", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to save memory", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusCreated, saveMemoryResponse{ID: m.ID})
}

// SearchMemory handles POST /api/v1/agents/{agentID}/memory/search
func (h *MemoryHandler) SearchMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", getRequestID(ctx))
		return
	}
	if req.Query == "" && len(req.Vector) == 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "query or vector is required", getRequestID(ctx))
		return
	}
	if req.K <= 0 {
		req.K = 10
	}

	results, err := h.hub.Search(ctx, req.Query, req.Vector, memory.SearchOptions{
		K:                   req.K,
		ChannelScope:        req.ChannelScope,
		ImportanceMin:       req.ImportanceMin,
		IncludeAssociations: req.IncludeAssociations,
	})
	if err != nil {
		h.logger.Error("failed to search memory", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to search memory", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, results)
}

// ForgetMemory handles POST /api/v1/agents/{agentID}/memory/forget
func (h *MemoryHandler) ForgetMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req forgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", getRequestID(ctx))
		return
	}
	if len(req.IDs) == 0 {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "at least one id is required", getRequestID(ctx))
		return
	}

	if err := h.hub.Forget(ctx, req.IDs); err != nil {
		h.logger.Error("failed to forget memory", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to forget memory", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, forgetResponse{Deleted: len(req.IDs)})
}

// Stats handles GET /api/v1/agents/{agentID}/memory/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.hub.Stats(ctx)
	if err != nil {
		h.logger.Error("failed to get memory stats", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, "failed to get memory stats", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, stats)
}

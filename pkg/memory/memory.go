// Package memory implements the hybrid memory system: dense vector search,
// BM25 lexical search, and association-graph expansion, fused by weighted
// reciprocal rank fusion, plus FSRS-style decay/prune/merge maintenance.
package memory

import (
	"context"
	"errors"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// Sentinel errors for the memory system.
var (
	ErrInvalidChannelID   = errors.New("memory: invalid channel ID")
	ErrInvalidQuery       = errors.New("memory: invalid query (no text and no vector)")
	ErrInvalidEntryID     = errors.New("memory: invalid entry ID")
	ErrDimensionMismatch  = errors.New("memory: vector dimension mismatch")
	ErrStorageUnavailable = errors.New("memory: storage unavailable")
	ErrNotFound           = errors.New("memory: entry not found")
)

// SearchOptions parameterizes a hybrid search call.
type SearchOptions struct {
	K                   int
	Types               []domain.MemoryType
	ChannelScope        string // restrict to this channel OR channel_id == ""
	ImportanceMin       float64
	IncludeAssociations bool
}

// RankedMemory pairs a stored memory with its fused relevance score.
type RankedMemory struct {
	Memory     *domain.Memory
	FusedScore float64
}

// Hub is the hybrid memory system's external contract, matching the
// search/save/maintain shape every process (Channel, Branch, Worker,
// Cortex) uses to read and write long-term memory.
type Hub interface {
	// Search runs the hybrid dense+lexical+graph retrieval and RRF fusion
	// described by SearchOptions, applying post-fusion filters, and bumps
	// last_accessed_at/access_count on every returned id (best-effort).
	Search(ctx context.Context, queryText string, queryVector []float32, opts SearchOptions) ([]RankedMemory, error)

	// Save inserts a memory row and synchronously embeds/indexes it. A
	// failed embed still saves the row, marked non-indexed.
	Save(ctx context.Context, m *domain.Memory) error

	// Associate records a directed edge between two memories. Best-effort:
	// its failure never rolls back a prior Save.
	Associate(ctx context.Context, a *domain.Association) error

	// Forget deletes specific memories by id, cascading their associations.
	Forget(ctx context.Context, ids []string) error

	// Start launches background maintenance (decay/prune/merge).
	Start(ctx context.Context) error
	// Stop halts background maintenance.
	Stop(ctx context.Context) error
}

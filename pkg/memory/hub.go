package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// MemoryHub is the concrete implementation of the Hub interface: it wires
// TieredStorage, VectorIndex, BM25Index, HybridRetriever, and DecayManager
// into the search/save/maintain contract every process uses.
type MemoryHub struct {
	mu sync.RWMutex

	cfg      *config.MemoryConfig
	store    storage.Store
	tiered   *TieredStorage
	vector   DenseIndex
	bm25     *BM25Index
	hybrid   *HybridRetriever
	decay    *DecayManager
	embedder Embedder
	logger   hubLogger
	started  bool
}

// hubLogger is the minimal logger interface used by MemoryHub.
type hubLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopHubLogger is a no-op logger, used when no logger is supplied.
type nopHubLogger struct{}

func (n *nopHubLogger) Debug(msg string, args ...any) {}
func (n *nopHubLogger) Info(msg string, args ...any)  {}
func (n *nopHubLogger) Warn(msg string, args ...any)  {}
func (n *nopHubLogger) Error(msg string, args ...any) {}

// NewMemoryHub creates a new MemoryHub from configuration, a structured
// store, and an embedder. embedder may be nil, in which case Save skips
// dense indexing and Search falls back to lexical-only retrieval. When
// cfg.Qdrant.Enabled, the dense index is an external QdrantIndex instead of
// the embedded brute-force VectorIndex; dialing it can fail, which is the
// only reason this constructor returns an error.
func NewMemoryHub(cfg *config.MemoryConfig, store storage.Store, embedder Embedder, logger hubLogger) (*MemoryHub, error) {
	if logger == nil {
		logger = &nopHubLogger{}
	}

	var vectorIdx DenseIndex
	if cfg.Qdrant.Enabled {
		qi, err := NewQdrantIndex(context.Background(), cfg.Qdrant.Address, cfg.Qdrant.Collection, cfg.VectorDimension)
		if err != nil {
			return nil, fmt.Errorf("memory: connecting to qdrant: %w", err)
		}
		vectorIdx = qi
	} else {
		vectorIdx = NewVectorIndex(cfg.VectorDimension)
	}

	l1 := NewL1Cache(cfg.L1CacheSize)
	tiered := NewTieredStorage(l1, store)
	bm25Idx := NewBM25Index(cfg.BM25.K1, cfg.BM25.B)
	hybrid := NewHybridRetriever(vectorIdx, bm25Idx, store)
	decay := NewDecayManager(cfg.DecayLambda, cfg.ImportanceFloor, cfg.DecayInterval)

	return &MemoryHub{
		cfg:      cfg,
		store:    store,
		tiered:   tiered,
		vector:   vectorIdx,
		bm25:     bm25Idx,
		hybrid:   hybrid,
		decay:    decay,
		embedder: embedder,
		logger:   logger,
	}, nil
}

// SetMetrics attaches a metrics manager to the hub's hybrid retriever, for
// per-search-fusion recording. Left unset, fusion metrics go unrecorded.
func (h *MemoryHub) SetMetrics(m *metrics.Manager) {
	h.hybrid.SetMetrics(m)
}

// Start rehydrates the in-memory indexes from the structured store (BM25
// from content, the vector snapshot from disk if configured) and launches
// the decay/prune/merge maintenance loop.
func (h *MemoryHub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("memory: hub already started")
	}

	h.logger.Info("starting memory hub",
		"vector_dimension", h.cfg.VectorDimension,
		"l1_cache_size", h.cfg.L1CacheSize,
		"decay_interval", h.cfg.DecayInterval,
	)

	if h.cfg.StoragePath != "" {
		if err := h.vector.Load(h.cfg.StoragePath); err != nil {
			h.logger.Debug("no vector snapshot to restore", "path", h.cfg.StoragePath, "error", err)
		}
	}

	memories, err := h.store.ListMemories(ctx, storage.MemoryFilter{IncludeGlobal: true})
	if err != nil {
		return fmt.Errorf("memory: rehydrate failed: %w", err)
	}
	for _, m := range memories {
		if m.Content != "" {
			h.bm25.IndexDocument(m.ID, m.ChannelID, m.Content)
		}
	}

	h.decay.StartLoop(ctx, h.runMaintenance)
	h.started = true

	h.logger.Info("memory hub started", "rehydrated", len(memories))
	return nil
}

// Stop halts the maintenance loop and, if configured, snapshots the vector
// index to disk so Start can restore it without re-embedding everything.
func (h *MemoryHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	h.logger.Info("stopping memory hub")
	h.decay.Stop()

	if h.cfg.StoragePath != "" {
		if err := h.vector.Save(h.cfg.StoragePath); err != nil {
			h.logger.Warn("failed to snapshot vector index", "path", h.cfg.StoragePath, "error", err)
		}
	}

	h.started = false
	h.logger.Info("memory hub stopped")
	return nil
}

// Search runs hybrid retrieval and RRF fusion, loads each candidate, applies
// post-fusion filters, and bumps last_accessed_at/access_count on every
// returned memory (best-effort: a touch failure doesn't fail the search).
func (h *MemoryHub) Search(ctx context.Context, queryText string, queryVector []float32, opts SearchOptions) ([]RankedMemory, error) {
	if queryText == "" && len(queryVector) == 0 {
		return nil, ErrInvalidQuery
	}

	k := opts.K
	if k <= 0 {
		k = 10
	}

	fused, err := h.hybrid.Fuse(ctx, queryText, queryVector, k, opts.ChannelScope)
	if err != nil {
		return nil, fmt.Errorf("memory: search failed: %w", err)
	}

	results := make([]RankedMemory, 0, len(fused))
	for _, f := range fused {
		m, err := h.tiered.Get(ctx, f.id)
		if err != nil {
			// Index and store can drift (e.g. a Forget raced a Search); skip
			// candidates the store no longer has rather than failing outright.
			continue
		}
		if !matchesSearchFilter(m, opts) {
			continue
		}
		results = append(results, RankedMemory{Memory: m, FusedScore: f.score})
	}

	for _, r := range results {
		if err := h.tiered.Touch(ctx, r.Memory.ID); err != nil {
			h.logger.Warn("failed to touch memory", "memory_id", r.Memory.ID, "error", err)
		}
	}

	return results, nil
}

func matchesSearchFilter(m *domain.Memory, opts SearchOptions) bool {
	if opts.ImportanceMin > 0 && m.Importance < opts.ImportanceMin {
		return false
	}
	if len(opts.Types) > 0 && !slices.Contains(opts.Types, m.MemoryType) {
		return false
	}
	if opts.ChannelScope != "" && m.ChannelID != "" && m.ChannelID != opts.ChannelScope {
		return false
	}
	return true
}

// Save persists a memory row and synchronously embeds/indexes it. A failed
// embed still saves the row, left with Indexed=false so a later reindex pass
// can retry it.
func (h *MemoryHub) Save(ctx context.Context, m *domain.Memory) error {
	m.ClampImportance()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}

	if err := h.tiered.Save(ctx, m); err != nil {
		return fmt.Errorf("memory: save failed: %w", err)
	}

	if m.Content == "" {
		return nil
	}
	h.bm25.IndexDocument(m.ID, m.ChannelID, m.Content)

	if h.embedder == nil {
		return nil
	}
	vec, err := h.embedder.Embed(ctx, m.Content)
	if err != nil {
		h.logger.Warn("failed to embed memory", "memory_id", m.ID, "error", err)
		return nil
	}
	if err := h.vector.AddVector(m.ID, m.ChannelID, vec); err != nil {
		h.logger.Warn("failed to index memory vector", "memory_id", m.ID, "error", err)
		return nil
	}

	m.Indexed = true
	if err := h.tiered.Save(ctx, m); err != nil {
		h.logger.Warn("failed to persist indexed flag", "memory_id", m.ID, "error", err)
	}
	return nil
}

// Associate records a directed edge between two memories. Best-effort: its
// failure never rolls back a prior Save.
func (h *MemoryHub) Associate(ctx context.Context, a *domain.Association) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return h.tiered.Associate(ctx, a)
}

// Forget deletes specific memories by id, cascading their associations and
// clearing them from both in-memory indexes.
func (h *MemoryHub) Forget(ctx context.Context, ids []string) error {
	for _, id := range ids {
		h.vector.DeleteVector(id)
		h.bm25.RemoveDocument(id)
		if err := h.store.DeleteAssociationsFor(ctx, id); err != nil {
			h.logger.Warn("failed to delete associations", "memory_id", id, "error", err)
		}
		if err := h.tiered.Delete(ctx, id); err != nil {
			h.logger.Warn("failed to delete memory", "memory_id", id, "error", err)
		}
	}
	return nil
}

// Stats reports aggregate statistics for this hub's memory store, surfaced
// by a Cortex bulletin's consolidation-opportunity section.
func (h *MemoryHub) Stats(ctx context.Context) (*Stats, error) {
	memories, err := h.store.ListMemories(ctx, storage.MemoryFilter{IncludeGlobal: true})
	if err != nil {
		return nil, fmt.Errorf("memory: stats failed: %w", err)
	}

	stats := &Stats{TotalEntries: len(memories)}
	if len(memories) == 0 {
		return stats, nil
	}

	channels := make(map[string]struct{})
	var totalImportance float64
	for _, m := range memories {
		totalImportance += m.Importance
		if m.Indexed {
			stats.IndexedCount++
		}
		if m.ChannelID != "" {
			channels[m.ChannelID] = struct{}{}
		}
	}
	stats.AverageImportance = totalImportance / float64(len(memories))
	stats.ChannelCount = len(channels)
	return stats, nil
}

// runMaintenance is the decay loop callback: it decays importance, prunes
// memories that have fallen below the prune threshold with no engagement,
// and links near-duplicate memories via an "updates" association.
func (h *MemoryHub) runMaintenance(ctx context.Context) error {
	h.logger.Debug("running memory maintenance cycle")

	memories, err := h.store.ListMemories(ctx, storage.MemoryFilter{IncludeGlobal: true})
	if err != nil {
		return fmt.Errorf("memory: maintenance list failed: %w", err)
	}

	now := time.Now()
	var pruned, decayed, merged int

	for _, m := range memories {
		before := m.Importance
		h.decay.Apply(m, now)
		if m.Importance != before {
			decayed++
			if err := h.tiered.Save(ctx, m); err != nil {
				h.logger.Warn("failed to persist decayed memory", "memory_id", m.ID, "error", err)
			}
		}

		if m.Importance >= h.cfg.PruneThreshold || m.AccessCount != 0 {
			continue
		}
		incoming, err := h.store.ListIncoming(ctx, m.ID)
		if err != nil {
			h.logger.Warn("failed to check incoming associations", "memory_id", m.ID, "error", err)
			continue
		}
		if len(incoming) == 0 {
			if err := h.Forget(ctx, []string{m.ID}); err != nil {
				h.logger.Warn("failed to prune memory", "memory_id", m.ID, "error", err)
				continue
			}
			pruned++
		}
	}

	if h.cfg.MergeThreshold > 0 {
		merged, err = h.mergeDuplicates(ctx)
		if err != nil {
			h.logger.Warn("merge pass failed", "error", err)
		}
	}

	if decayed > 0 || pruned > 0 || merged > 0 {
		h.logger.Info("memory maintenance complete", "decayed", decayed, "pruned", pruned, "merged", merged)
	}
	return nil
}

// mergeDuplicates links memories whose embeddings are near-identical with an
// "updates" association rather than destructively collapsing either row, so
// a merge never silently discards information a caller might still need.
func (h *MemoryHub) mergeDuplicates(ctx context.Context) (int, error) {
	ids, vectors := h.vector.snapshot()
	linked := make(map[string]struct{}, len(ids))
	count := 0

	for i, id := range ids {
		if _, done := linked[id]; done {
			continue
		}
		candidateIDs, scores, err := h.vector.Search(vectors[i], 2, "")
		if err != nil {
			continue
		}
		for j, otherID := range candidateIDs {
			if otherID == id || scores[j] < h.cfg.MergeThreshold {
				continue
			}
			if _, done := linked[otherID]; done {
				continue
			}
			if err := h.store.SaveAssociation(ctx, &domain.Association{
				ID:        uuid.New().String(),
				SourceID:  otherID,
				TargetID:  id,
				Relation:  domain.RelationUpdates,
				Weight:    scores[j],
				CreatedAt: time.Now(),
			}); err != nil {
				continue
			}
			linked[id] = struct{}{}
			linked[otherID] = struct{}{}
			count++
			break
		}
	}
	return count, nil
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-run/kestrel/pkg/metrics"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// Reciprocal-rank-fusion constants for the three candidate sources.
const (
	rrfK          = 60.0
	weightDense   = 1.0
	weightLexical = 1.0
	weightGraph   = 0.5
)

// HybridRetriever fuses dense vector search, BM25 lexical search, and
// association-graph expansion into a single ranked candidate list.
type HybridRetriever struct {
	vector  DenseIndex
	bm25    *BM25Index
	store   storage.Store
	metrics *metrics.Manager
}

// NewHybridRetriever creates a new hybrid retriever.
func NewHybridRetriever(vector DenseIndex, bm25 *BM25Index, store storage.Store) *HybridRetriever {
	return &HybridRetriever{vector: vector, bm25: bm25, store: store}
}

// SetMetrics attaches a metrics manager for per-fusion recording. Left
// unset, fusion metrics simply go unrecorded, same as a nil *metrics.Manager.
func (h *HybridRetriever) SetMetrics(m *metrics.Manager) { h.metrics = m }

// Fuse runs dense+lexical search in parallel, expands the association graph
// from their combined hits, and fuses all three candidate sets by weighted
// RRF. It returns up to k candidates, most relevant first.
func (h *HybridRetriever) Fuse(ctx context.Context, queryText string, queryVector []float32, k int, channelScope string) ([]scored, error) {
	start := time.Now()
	var sources []string
	defer func() {
		if len(sources) > 0 {
			h.metrics.RecordSearchFusion(sources, time.Since(start))
		}
	}()

	fetchK := k * 3
	if fetchK < 30 {
		fetchK = 30
	}

	var (
		wg                    sync.WaitGroup
		denseIDs, lexicalIDs  []string
		denseErr              error
	)

	if len(queryVector) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			denseIDs, _, denseErr = h.vector.Search(queryVector, fetchK, channelScope)
		}()
	}
	if queryText != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lexicalIDs, _ = h.bm25.Search(queryText, fetchK, channelScope)
		}()
	}
	wg.Wait()

	if denseErr != nil {
		if len(lexicalIDs) == 0 {
			return nil, denseErr
		}
		denseIDs = nil
	}
	if len(denseIDs) == 0 && len(lexicalIDs) == 0 {
		return nil, nil
	}

	seedRank := make(map[string]int, len(denseIDs)+len(lexicalIDs))
	seen := make(map[string]struct{}, len(denseIDs)+len(lexicalIDs))
	seeds := make([]string, 0, len(denseIDs)+len(lexicalIDs))
	for rank, id := range denseIDs {
		if _, ok := seedRank[id]; !ok || rank < seedRank[id] {
			seedRank[id] = rank
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	for rank, id := range lexicalIDs {
		if existing, ok := seedRank[id]; !ok || rank < existing {
			seedRank[id] = rank
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}

	var graphCandidates []graphCandidate
	if h.store != nil && len(seeds) > 0 {
		var err error
		graphCandidates, err = expandGraph(ctx, h.store, seeds, seedRank)
		if err != nil {
			graphCandidates = nil
		}
	}

	if len(denseIDs) > 0 {
		sources = append(sources, "dense")
	}
	if len(lexicalIDs) > 0 {
		sources = append(sources, "lexical")
	}
	if len(graphCandidates) > 0 {
		sources = append(sources, "graph")
	}

	fused := fuseRRF(denseIDs, lexicalIDs, graphCandidates)
	if k > 0 && k < len(fused) {
		fused = fused[:k]
	}
	return fused, nil
}

// fuseRRF combines the three candidate sources by weighted reciprocal rank
// fusion: fused(d) = sum_s weight_s / (rrfK + rank_s(d)). Graph candidates
// are first ranked by their own expansion score (descending) to derive a
// rank within that source, then folded in with weightGraph.
func fuseRRF(denseIDs, lexicalIDs []string, graphCandidates []graphCandidate) []scored {
	fusedScores := make(map[string]float64)

	for rank, id := range denseIDs {
		fusedScores[id] += weightDense / (rrfK + float64(rank+1))
	}
	for rank, id := range lexicalIDs {
		fusedScores[id] += weightLexical / (rrfK + float64(rank+1))
	}

	graphRanked := make([]scored, 0, len(graphCandidates))
	for _, c := range graphCandidates {
		graphRanked = append(graphRanked, scored{id: c.id, score: c.score})
	}
	rankScored(graphRanked)
	for rank, c := range graphRanked {
		fusedScores[c.id] += weightGraph / (rrfK + float64(rank+1))
	}

	results := make([]scored, 0, len(fusedScores))
	for id, score := range fusedScores {
		results = append(results, scored{id: id, score: score})
	}
	rankScored(results)
	return results
}

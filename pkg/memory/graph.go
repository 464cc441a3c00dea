package memory

import (
	"context"

	"github.com/kestrel-run/kestrel/pkg/storage"
)

const (
	graphMaxDepth   = 2
	graphDepthDecay = 0.5
)

// graphCandidate is one memory reached by BFS association expansion, with
// its accumulated expansion score (summed across all paths that reach it).
type graphCandidate struct {
	id    string
	score float64
}

// expandGraph walks the association graph outward from seeds (search hits
// from dense/lexical retrieval), up to graphMaxDepth hops, scoring each
// discovered memory by seed_rank^-1 * edge_weight * depth_decay^depth and
// summing contributions across every path that reaches it. Cycles are
// broken by a per-call visited set, so a memory is expanded at most once
// regardless of how many edges point back to it.
func expandGraph(ctx context.Context, store storage.Store, seeds []string, seedRank map[string]int) ([]graphCandidate, error) {
	type frontier struct {
		id    string
		depth int
		score float64
	}

	visited := make(map[string]struct{}, len(seeds))
	for _, id := range seeds {
		visited[id] = struct{}{}
	}

	scores := make(map[string]float64)
	queue := make([]frontier, 0, len(seeds))
	for _, id := range seeds {
		rank := seedRank[id]
		queue = append(queue, frontier{id: id, depth: 0, score: 1.0 / float64(rank+1)})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= graphMaxDepth {
			continue
		}

		edges, err := store.ListOutgoing(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		incoming, err := store.ListIncoming(ctx, cur.id)
		if err != nil {
			return nil, err
		}
		edges = append(edges, incoming...)

		nextDepth := cur.depth + 1
		decay := 1.0
		for i := 0; i < nextDepth; i++ {
			decay *= graphDepthDecay
		}

		for _, e := range edges {
			next := e.TargetID
			if next == cur.id || next == "" {
				next = e.SourceID
			}
			if next == cur.id {
				continue
			}

			contribution := cur.score * e.Weight * decay
			scores[next] += contribution

			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, frontier{id: next, depth: nextDepth, score: contribution})
		}
	}

	candidates := make([]graphCandidate, 0, len(scores))
	for id, score := range scores {
		candidates = append(candidates, graphCandidate{id: id, score: score})
	}
	return candidates, nil
}

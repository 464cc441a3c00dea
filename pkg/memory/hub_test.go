package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-run/kestrel/config"
	"github.com/kestrel-run/kestrel/pkg/domain"
	memstore "github.com/kestrel-run/kestrel/pkg/storage/memory"
)

// fakeEmbedder derives a deterministic, testable vector from content so
// similarity assertions don't depend on a real embedding model.
type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, f.dim)
	for _, r := range text {
		vec[int(r)%f.dim] += 1
	}
	return vec, nil
}

func testMemoryConfig() *config.MemoryConfig {
	return &config.MemoryConfig{
		Enabled:         true,
		VectorDimension: 8,
		L1CacheSize:     100,
		DecayLambda:     0.01,
		ImportanceFloor: 0.05,
		PruneThreshold:  0.1,
		MergeThreshold:  0.99,
		DecayInterval:   time.Hour,
		BM25:            config.BM25Config{K1: 1.5, B: 0.75},
	}
}

func setupTestHub(t *testing.T) (*MemoryHub, func()) {
	t.Helper()
	cfg := testMemoryConfig()
	hub, err := NewMemoryHub(cfg, memstore.New(), &fakeEmbedder{dim: cfg.VectorDimension}, nil)
	if err != nil {
		t.Fatalf("NewMemoryHub: %v", err)
	}
	return hub, func() { hub.Stop(context.Background()) } //nolint:errcheck
}

func TestHub_SaveAndSearchByText(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}

	m1 := &domain.Memory{Content: "machine learning algorithms", MemoryType: domain.MemoryFact, Importance: 0.8, ChannelID: "c1"}
	if err := hub.Save(ctx, m1); err != nil {
		t.Fatal(err)
	}
	m2 := &domain.Memory{Content: "cooking pasta recipes", MemoryType: domain.MemoryFact, Importance: 0.8, ChannelID: "c1"}
	if err := hub.Save(ctx, m2); err != nil {
		t.Fatal(err)
	}
	if m1.ID == "" || m2.ID == "" {
		t.Fatal("expected ids to be assigned")
	}
	if !m1.Indexed || !m2.Indexed {
		t.Error("expected both memories to be marked indexed")
	}

	results, err := hub.Search(ctx, "machine learning", nil, SearchOptions{K: 1, ChannelScope: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Memory.ID != m1.ID {
		t.Errorf("expected memory %s, got %s", m1.ID, results[0].Memory.ID)
	}
	if results[0].Memory.AccessCount == 0 {
		t.Error("expected access count to be bumped by search")
	}
}

func TestHub_SearchByVector(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	m := &domain.Memory{Content: "alpha", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"}
	hub.Save(ctx, m)

	vec, _ := hub.embedder.Embed(ctx, "alpha")
	results, err := hub.Search(ctx, "", vec, SearchOptions{K: 1, ChannelScope: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Memory.ID != m.ID {
		t.Errorf("expected memory %s, got %v", m.ID, results)
	}
}

func TestHub_SearchFiltersByTypeAndImportance(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	low := &domain.Memory{Content: "shared topic alpha", MemoryType: domain.MemoryObservation, Importance: 0.1, ChannelID: "c1"}
	high := &domain.Memory{Content: "shared topic alpha", MemoryType: domain.MemoryFact, Importance: 0.9, ChannelID: "c1"}
	hub.Save(ctx, low)
	hub.Save(ctx, high)

	results, err := hub.Search(ctx, "shared topic alpha", nil, SearchOptions{
		K: 10, ChannelScope: "c1", Types: []domain.MemoryType{domain.MemoryFact}, ImportanceMin: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Memory.ID != high.ID {
		t.Errorf("expected only the high-importance fact, got %v", results)
	}
}

func TestHub_ChannelIsolation(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	hub.Save(ctx, &domain.Memory{Content: "channel one topic", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"})
	hub.Save(ctx, &domain.Memory{Content: "channel two topic", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c2"})

	results, err := hub.Search(ctx, "topic", nil, SearchOptions{K: 10, ChannelScope: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Memory.ChannelID != "" && r.Memory.ChannelID != "c1" {
			t.Errorf("expected only c1-scoped results, got channel %s", r.Memory.ChannelID)
		}
	}
}

func TestHub_InvalidQuery(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()

	_, err := hub.Search(ctx, "", nil, SearchOptions{})
	if err != ErrInvalidQuery {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestHub_Forget(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	m := &domain.Memory{Content: "to be forgotten", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"}
	hub.Save(ctx, m)

	if err := hub.Forget(ctx, []string{m.ID}); err != nil {
		t.Fatal(err)
	}

	results, err := hub.Search(ctx, "forgotten", nil, SearchOptions{K: 10, ChannelScope: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after forgetting, got %d", len(results))
	}
}

func TestHub_Associate(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	a := &domain.Memory{Content: "source fact", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"}
	b := &domain.Memory{Content: "target fact", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"}
	hub.Save(ctx, a)
	hub.Save(ctx, b)

	err := hub.Associate(ctx, &domain.Association{
		SourceID: a.ID, TargetID: b.ID, Relation: domain.RelationSupports, Weight: 0.8,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := hub.store.ListOutgoing(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].TargetID != b.ID {
		t.Errorf("expected an outgoing association to %s, got %v", b.ID, out)
	}
}

func TestHub_Stats(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()
	hub.Start(ctx)

	hub.Save(ctx, &domain.Memory{Content: "one", MemoryType: domain.MemoryFact, Importance: 0.5, ChannelID: "c1"})
	hub.Save(ctx, &domain.Memory{Content: "two", MemoryType: domain.MemoryFact, Importance: 0.9, ChannelID: "c1"})

	stats, err := hub.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.TotalEntries)
	}
	if stats.IndexedCount != 2 {
		t.Errorf("expected 2 indexed entries, got %d", stats.IndexedCount)
	}
}

func TestHub_DoubleStartFails(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := hub.Start(ctx); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestHub_PruneRemovesLowImportanceUnreferencedMemory(t *testing.T) {
	hub, cleanup := setupTestHub(t)
	defer cleanup()
	ctx := context.Background()

	m := &domain.Memory{Content: "stale note", MemoryType: domain.MemoryObservation, Importance: 0.01, ChannelID: "c1"}
	hub.Save(ctx, m)

	if err := hub.runMaintenance(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := hub.tiered.Get(ctx, m.ID); err == nil {
		t.Error("expected low-importance, unreferenced memory to be pruned")
	}
}

package memory

import (
	"context"
	"testing"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
	memstore "github.com/kestrel-run/kestrel/pkg/storage/memory"
)

func setupTestStorage() *TieredStorage {
	return NewTieredStorage(NewL1Cache(10), memstore.New())
}

func TestL1Cache_PutAndGet(t *testing.T) {
	cache := NewL1Cache(3)

	m := &domain.Memory{ID: "a", Content: "hello"}
	cache.Put("a", m)

	got, ok := cache.Get("a")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.Content != "hello" {
		t.Errorf("expected 'hello', got %q", got.Content)
	}
}

func TestL1Cache_Eviction(t *testing.T) {
	cache := NewL1Cache(2)

	cache.Put("a", &domain.Memory{ID: "a"})
	cache.Put("b", &domain.Memory{ID: "b"})
	cache.Put("c", &domain.Memory{ID: "c"}) // Should evict "a"

	if _, ok := cache.Get("a"); ok {
		t.Error("expected 'a' to be evicted")
	}
	if _, ok := cache.Get("b"); !ok {
		t.Error("expected 'b' to still be in cache")
	}
	if _, ok := cache.Get("c"); !ok {
		t.Error("expected 'c' to still be in cache")
	}
}

func TestL1Cache_LRUOrder(t *testing.T) {
	cache := NewL1Cache(2)

	cache.Put("a", &domain.Memory{ID: "a"})
	cache.Put("b", &domain.Memory{ID: "b"})
	cache.Get("a")                        // Promote "a"
	cache.Put("c", &domain.Memory{ID: "c"}) // Should evict "b" (least recently used)

	if _, ok := cache.Get("a"); !ok {
		t.Error("expected 'a' to still be in cache (was promoted)")
	}
	if _, ok := cache.Get("b"); ok {
		t.Error("expected 'b' to be evicted")
	}
}

func TestL1Cache_Delete(t *testing.T) {
	cache := NewL1Cache(10)
	cache.Put("a", &domain.Memory{ID: "a"})
	cache.Delete("a")

	if _, ok := cache.Get("a"); ok {
		t.Error("expected 'a' to be deleted")
	}
	if cache.Len() != 0 {
		t.Errorf("expected 0 items, got %d", cache.Len())
	}
}

func TestTieredStorage_SaveAndGet(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	m := &domain.Memory{ID: "e1", ChannelID: "c1", Content: "hello"}

	if err := ts.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := ts.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello" {
		t.Errorf("expected 'hello', got %q", got.Content)
	}
}

func TestTieredStorage_L1CachePromotion(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	m := &domain.Memory{ID: "e1", ChannelID: "c1", Content: "hello"}

	if err := ts.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	ts.l1.Delete("e1")

	got, err := ts.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hello" {
		t.Errorf("expected 'hello', got %q", got.Content)
	}

	cached, ok := ts.l1.Get("e1")
	if !ok {
		t.Error("expected entry to be promoted to L1")
	}
	if cached.Content != "hello" {
		t.Errorf("expected 'hello' in L1, got %q", cached.Content)
	}
}

func TestTieredStorage_Touch(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	m := &domain.Memory{ID: "e1", ChannelID: "c1", Content: "hello"}
	ts.Save(ctx, m)

	if err := ts.Touch(ctx, "e1"); err != nil {
		t.Fatal(err)
	}

	if _, ok := ts.l1.Get("e1"); ok {
		t.Error("expected Touch to invalidate the cached copy")
	}

	got, err := ts.Get(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", got.AccessCount)
	}
}

func TestTieredStorage_Delete(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	m := &domain.Memory{ID: "e1", ChannelID: "c1", Content: "hello"}
	if err := ts.Save(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := ts.Delete(ctx, "e1"); err != nil {
		t.Fatal(err)
	}

	_, err := ts.Get(ctx, "e1")
	if err == nil {
		t.Error("expected error after deletion")
	}
}

func TestTieredStorage_List(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	ts.Save(ctx, &domain.Memory{ID: "e1", ChannelID: "c1", Content: "a"})
	ts.Save(ctx, &domain.Memory{ID: "e2", ChannelID: "c1", Content: "b"})
	ts.Save(ctx, &domain.Memory{ID: "e3", ChannelID: "c2", Content: "c"})

	results, err := ts.List(ctx, storage.MemoryFilter{ChannelID: "c1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 entries, got %d", len(results))
	}
}

func TestTieredStorage_AssociateAndList(t *testing.T) {
	ts := setupTestStorage()
	ctx := context.Background()
	ts.Save(ctx, &domain.Memory{ID: "a", ChannelID: "c1", Content: "a"})
	ts.Save(ctx, &domain.Memory{ID: "b", ChannelID: "c1", Content: "b"})

	if err := ts.Associate(ctx, &domain.Association{ID: "assoc1", SourceID: "a", TargetID: "b", Relation: domain.RelationSupports, Weight: 1}); err != nil {
		t.Fatal(err)
	}

	out, err := ts.Outgoing(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].TargetID != "b" {
		t.Errorf("expected one outgoing association to 'b', got %v", out)
	}

	in, err := ts.Incoming(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(in) != 1 || in[0].SourceID != "a" {
		t.Errorf("expected one incoming association from 'a', got %v", in)
	}
}

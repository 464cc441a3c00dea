package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/kestrel-run/kestrel/pkg/domain"
	"github.com/kestrel-run/kestrel/pkg/storage"
)

// --- L1 LRU Cache ---

// L1Cache is an in-memory LRU cache for hot memory rows, sitting in front of
// the structured store so a hot Search/Get doesn't round-trip to Badger.
type L1Cache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	eviction *list.List
	hits     int64
	misses   int64
}

type l1Item struct {
	key string
	mem *domain.Memory
}

// NewL1Cache creates a new L1 LRU cache with the given max size.
func NewL1Cache(maxSize int) *L1Cache {
	return &L1Cache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

// Get retrieves an entry from the cache, promoting it to the front.
func (c *L1Cache) Get(key string) (*domain.Memory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		c.hits++
		return elem.Value.(*l1Item).mem, true
	}
	c.misses++
	return nil, false
}

// Put adds or updates an entry in the cache.
func (c *L1Cache) Put(key string, mem *domain.Memory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*l1Item).mem = mem
		return
	}

	if c.maxSize > 0 && c.eviction.Len() >= c.maxSize {
		c.evictOldest()
	}

	elem := c.eviction.PushFront(&l1Item{key: key, mem: mem})
	c.items[key] = elem
}

// Delete removes an entry from the cache.
func (c *L1Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.Remove(elem)
		delete(c.items, key)
	}
}

// Len returns the number of items in the cache.
func (c *L1Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// HitRate returns the cache hit rate (0.0-1.0) and total accesses.
func (c *L1Cache) HitRate() (rate float64, total int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total = c.hits + c.misses
	if total == 0 {
		return 0, 0
	}
	return float64(c.hits) / float64(total), total
}

func (c *L1Cache) evictOldest() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.eviction.Remove(back)
	delete(c.items, back.Value.(*l1Item).key)
}

// --- Tiered Storage Coordinator ---

// TieredStorage fronts the structured store (pkg/storage.Store, typically
// Badger-backed) with an L1 LRU cache for hot reads. Writes always go
// through to the store first; the cache is populated on the way out.
type TieredStorage struct {
	l1    *L1Cache
	store storage.Store
}

// NewTieredStorage creates a new tiered storage coordinator.
func NewTieredStorage(l1 *L1Cache, store storage.Store) *TieredStorage {
	return &TieredStorage{l1: l1, store: store}
}

// Save persists a memory row and populates the L1 cache.
func (t *TieredStorage) Save(ctx context.Context, m *domain.Memory) error {
	if err := t.store.SaveMemory(ctx, m); err != nil {
		return err
	}
	t.l1.Put(m.ID, m)
	return nil
}

// Get retrieves from L1 first, then the store with promotion.
func (t *TieredStorage) Get(ctx context.Context, id string) (*domain.Memory, error) {
	if m, ok := t.l1.Get(id); ok {
		return m, nil
	}
	m, err := t.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	t.l1.Put(m.ID, m)
	return m, nil
}

// Touch bumps last_accessed_at/access_count and invalidates the cached copy
// so the next Get reloads the fresh counters.
func (t *TieredStorage) Touch(ctx context.Context, id string) error {
	t.l1.Delete(id)
	return t.store.TouchMemory(ctx, id)
}

// Delete removes from both L1 and the store.
func (t *TieredStorage) Delete(ctx context.Context, id string) error {
	t.l1.Delete(id)
	return t.store.DeleteMemory(ctx, id)
}

// List delegates to the store (L1 is a subset, not a source of truth for scans).
func (t *TieredStorage) List(ctx context.Context, filter storage.MemoryFilter) ([]*domain.Memory, error) {
	return t.store.ListMemories(ctx, filter)
}

// Associate records a directed edge between two memories.
func (t *TieredStorage) Associate(ctx context.Context, a *domain.Association) error {
	return t.store.SaveAssociation(ctx, a)
}

// Outgoing returns a memory's outgoing associations.
func (t *TieredStorage) Outgoing(ctx context.Context, id string) ([]*domain.Association, error) {
	return t.store.ListOutgoing(ctx, id)
}

// Incoming returns a memory's incoming associations.
func (t *TieredStorage) Incoming(ctx context.Context, id string) ([]*domain.Association, error) {
	return t.store.ListIncoming(ctx, id)
}

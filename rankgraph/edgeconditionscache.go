package rankgraph

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/sharedcode/ilm/cache"
)

// edgeConditionsCacheCapacity bounds the number of (condition, universe)
// resolutions kept per query: a single search can intern far more
// conditions than are worth holding onto once the cheapest-paths enumerator
// moves past them.
const edgeConditionsCacheCapacity = 4096

// EdgeConditionsCache memoizes the resolved document bitmap for a condition
// id under a specific universe. A cached entry is only reused when the
// universe it was computed against is unchanged; a shrunk or grown universe
// invalidates it. It holds one entry per condition id: a Put under a
// different universe replaces the earlier one. Backed by the generic MRU
// cache in package cache, which bounds its working set.
type EdgeConditionsCache struct {
	mu    sync.Mutex
	cache cache.Cache[Interned, edgeConditionEntry]
}

type edgeConditionEntry struct {
	universe *roaring.Bitmap
	result   *roaring.Bitmap
}

// NewEdgeConditionsCache returns an empty cache.
func NewEdgeConditionsCache() *EdgeConditionsCache {
	return &EdgeConditionsCache{
		cache: cache.NewCache[Interned, edgeConditionEntry](edgeConditionsCacheCapacity/4, edgeConditionsCacheCapacity),
	}
}

// Get returns the cached resolution for id under universe, if one exists
// and the universe matches exactly.
func (c *EdgeConditionsCache) Get(id Interned, universe *roaring.Bitmap) (*roaring.Bitmap, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.cache.Get([]Interned{id})[0]
	if e.universe == nil || !e.universe.Equals(universe) {
		return nil, false
	}
	return e.result, true
}

// Put records the resolution for id under universe. Both bitmaps are
// cloned so the cache is unaffected by later in-place mutation of either by
// the caller.
func (c *EdgeConditionsCache) Put(id Interned, universe, result *roaring.Bitmap) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set([]cache.Entry[Interned, edgeConditionEntry]{{
		Key: id,
		Value: edgeConditionEntry{
			universe: universe.Clone(),
			result:   result.Clone(),
		},
	}})
}

// Clear discards every cached entry, e.g. between unrelated queries.
func (c *EdgeConditionsCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
}

package rankgraph

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
)

func TestEdgeConditionsCacheMissThenHit(t *testing.T) {
	c := NewEdgeConditionsCache()
	universe := roaring.BitmapOf(1, 2, 3)

	if _, ok := c.Get(0, universe); ok {
		t.Fatal("expected a miss on an empty cache")
	}

	result := roaring.BitmapOf(2, 3)
	c.Put(0, universe, result)

	got, ok := c.Get(0, universe)
	if !ok {
		t.Fatal("expected a hit after Put")
	}
	if !got.Equals(result) {
		t.Fatalf("got %v, want %v", got.ToArray(), result.ToArray())
	}
}

func TestEdgeConditionsCacheInvalidatesOnUniverseChange(t *testing.T) {
	c := NewEdgeConditionsCache()
	universe := roaring.BitmapOf(1, 2, 3)
	c.Put(0, universe, roaring.BitmapOf(2, 3))

	shrunk := roaring.BitmapOf(1, 2)
	if _, ok := c.Get(0, shrunk); ok {
		t.Fatal("expected the cached entry to miss against a different universe")
	}
}

func TestEdgeConditionsCachePutClonesBitmaps(t *testing.T) {
	c := NewEdgeConditionsCache()
	universe := roaring.BitmapOf(1, 2, 3)
	result := roaring.BitmapOf(2, 3)
	c.Put(0, universe, result)

	// Mutating the caller's bitmaps after Put must not affect the cached
	// entry.
	universe.Add(4)
	result.Add(4)

	got, ok := c.Get(0, roaring.BitmapOf(1, 2, 3))
	if !ok {
		t.Fatal("expected a hit against the original universe")
	}
	if got.Contains(4) {
		t.Fatal("cached result was mutated by a later change to the caller's bitmap")
	}
}

func TestEdgeConditionsCacheClear(t *testing.T) {
	c := NewEdgeConditionsCache()
	universe := roaring.BitmapOf(1)
	c.Put(0, universe, roaring.BitmapOf(1))
	c.Clear()

	if _, ok := c.Get(0, universe); ok {
		t.Fatal("expected Clear to discard every cached entry")
	}
}

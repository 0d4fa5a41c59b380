package rankgraph

import (
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"
)

// EmptyPathsCache records paths proven to contribute no documents, so the
// cheapest-paths enumerator does not re-explore them. It tracks two kinds
// of proof:
//   - an edge that is empty on its own, regardless of path context;
//   - a path prefix after which a specific edge is known to complete to an
//     empty path.
type EmptyPathsCache struct {
	emptyEdges    *roaring.Bitmap
	emptyPrefixes map[string]*roaring.Bitmap
}

// NewEmptyPathsCache returns an empty cache.
func NewEmptyPathsCache() *EmptyPathsCache {
	return &EmptyPathsCache{
		emptyEdges:    roaring.New(),
		emptyPrefixes: make(map[string]*roaring.Bitmap),
	}
}

// ForbidEdge marks edgeID as contributing no documents by itself.
func (c *EmptyPathsCache) ForbidEdge(edgeID uint16) {
	c.emptyEdges.Add(uint32(edgeID))
}

// IsEdgeForbidden reports whether edgeID was marked by ForbidEdge.
func (c *EmptyPathsCache) IsEdgeForbidden(edgeID uint16) bool {
	return c.emptyEdges.Contains(uint32(edgeID))
}

// ForbidAfterPrefix marks that, after traversing prefix, taking edgeID
// completes to a path proven to contribute no documents.
func (c *EmptyPathsCache) ForbidAfterPrefix(prefix []uint16, edgeID uint16) {
	key := prefixKey(prefix)
	b, ok := c.emptyPrefixes[key]
	if !ok {
		b = roaring.New()
		c.emptyPrefixes[key] = b
	}
	b.Add(uint32(edgeID))
}

// PrunesNext reports whether, having already traversed prefix, taking
// edgeID next is known to lead to an empty path.
func (c *EmptyPathsCache) PrunesNext(prefix []uint16, edgeID uint16) bool {
	if c.IsEdgeForbidden(edgeID) {
		return true
	}
	b, ok := c.emptyPrefixes[prefixKey(prefix)]
	return ok && b.Contains(uint32(edgeID))
}

func prefixKey(prefix []uint16) string {
	var sb strings.Builder
	for i, id := range prefix {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(id)))
	}
	return sb.String()
}

package rankgraph

import (
	"container/heap"
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// pathCandidate is one partial or complete path under exploration by the
// cheapest-paths enumerator. universe is the document bitmap still
// reachable along this path: it narrows every time a conditional edge is
// resolved.
type pathCandidate struct {
	node     uint16
	cost     uint32
	edges    []uint16
	universe *roaring.Bitmap
}

type pathHeap []pathCandidate

func (h pathHeap) Len() int           { return len(h) }
func (h pathHeap) Less(i, j int) bool { return h[i].cost < h[j].cost }
func (h pathHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x any)        { *h = append(*h, x.(pathCandidate)) }
func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EnumerateCheapestPaths walks edges by cost (cheapest first, via a min-heap;
// the order among equal-cost paths is not defined) from the query graph's start node to
// its end node, skipping any edge the EmptyPathsCache has pruned, and
// returns up to limit complete paths as sequences of edge ids in traversal
// order.
//
// A Conditional edge's document bitmap is resolved against the path's
// current universe through caps.ResolveEdgeCondition, memoized in
// conditions, which keeps one resolution per condition id and reuses it
// while the universe is unchanged. A resolution that comes back
// empty is recorded in empty as a forbidden continuation of that prefix and
// the edge is pruned without being explored further; a non-empty
// resolution narrows the universe carried down that branch of the search.
// Unconditional edges are never resolved and never recorded in empty (they
// are still skipped if empty already prunes them): they pass the current
// universe through unchanged.
//
// No third-party priority-queue implementation appears anywhere in the
// retrieved dependency pack, so this uses container/heap directly; see
// DESIGN.md.
func EnumerateCheapestPaths[E comparable](ctx context.Context, g *RankingRuleGraph[E], caps Graph[E], conditions *EdgeConditionsCache, empty *EmptyPathsCache, universe *roaring.Bitmap, limit int) ([][]uint16, error) {
	start := g.QueryGraph.Start()
	end := g.QueryGraph.End()

	h := &pathHeap{{node: start, universe: universe}}
	heap.Init(h)

	var results [][]uint16
	for h.Len() > 0 && len(results) < limit {
		cur := heap.Pop(h).(pathCandidate)
		if cur.node == end {
			results = append(results, cur.edges)
			continue
		}
		if int(cur.node) >= len(g.EdgesOfNode) {
			continue
		}
		it := g.EdgesOfNode[cur.node].Iterator()
		for it.HasNext() {
			edgeID := uint16(it.Next())
			e := g.Edge(edgeID)
			if e == nil {
				continue
			}
			if empty.PrunesNext(cur.edges, edgeID) {
				continue
			}

			nextUniverse := cur.universe
			if e.Condition.IsConditional() {
				resolved, err := resolveCondition(ctx, g, caps, conditions, e.Condition.ID(), cur.universe)
				if err != nil {
					return nil, err
				}
				if resolved.IsEmpty() {
					empty.ForbidAfterPrefix(cur.edges, edgeID)
					continue
				}
				nextUniverse = resolved
			}

			next := make([]uint16, len(cur.edges), len(cur.edges)+1)
			copy(next, cur.edges)
			next = append(next, edgeID)
			heap.Push(h, pathCandidate{
				node:     e.DestNode,
				cost:     cur.cost + uint32(e.Cost),
				edges:    next,
				universe: nextUniverse,
			})
		}
	}
	return results, nil
}

// resolveCondition looks up the cached resolution for id under universe
// before falling back to caps.ResolveEdgeCondition, caching whatever it
// returns for the next edge that shares the same (condition, universe)
// pair.
func resolveCondition[E comparable](ctx context.Context, g *RankingRuleGraph[E], caps Graph[E], conditions *EdgeConditionsCache, id Interned, universe *roaring.Bitmap) (*roaring.Bitmap, error) {
	if cached, ok := conditions.Get(id, universe); ok {
		return cached, nil
	}
	cond := g.Conditions.Get(id)
	resolved, err := caps.ResolveEdgeCondition(ctx, cond, universe)
	if err != nil {
		return nil, err
	}
	conditions.Put(id, universe, resolved)
	return resolved, nil
}

// Package rankgraph implements the ranking-rule graph: a layered DAG built
// on top of a precomputed, externally supplied query graph, used by
// graph-based ranking rules (proximity, typo, and the like). The compact
// per-node edge bitmap is backed by github.com/RoaringBitmap/roaring/v2.
package rankgraph

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// Interned is a small integer id assigned by an Interner.
type Interned uint16

// EdgeCondition is the condition attached to an edge. An edge with no
// condition is Unconditional: traversing it does not shrink the candidate
// set. Most edges are Conditional, referencing a condition by its interned
// id.
type EdgeCondition struct {
	conditional bool
	id          Interned
}

// Unconditional returns the condition for an edge that never restricts the
// candidate set.
func Unconditional() EdgeCondition {
	return EdgeCondition{}
}

// Conditional returns the condition referencing the given interned id.
func Conditional(id Interned) EdgeCondition {
	return EdgeCondition{conditional: true, id: id}
}

// IsConditional reports whether the condition restricts the candidate set.
func (c EdgeCondition) IsConditional() bool {
	return c.conditional
}

// ID returns the interned condition id. Only meaningful when IsConditional
// is true.
func (c EdgeCondition) ID() Interned {
	return c.id
}

// Edge is one edge in the ranking rule graph: a source node, a destination
// node, an 8-bit cost, and a condition.
type Edge struct {
	SourceNode uint16
	DestNode   uint16
	Cost       uint8
	Condition  EdgeCondition
}

// Interner assigns stable 16-bit ids to edge conditions so that many edges
// sharing a predicate can share its storage. It is injective up to
// equality: two structurally-equal conditions are always assigned the same
// id.
type Interner[E comparable] struct {
	values []E
	ids    map[E]Interned
}

// NewInterner returns an empty Interner.
func NewInterner[E comparable]() *Interner[E] {
	return &Interner[E]{ids: make(map[E]Interned)}
}

// Insert returns the id for v, assigning a fresh one if v has not been seen
// before.
func (in *Interner[E]) Insert(v E) Interned {
	if id, ok := in.ids[v]; ok {
		return id
	}
	id := Interned(len(in.values))
	in.values = append(in.values, v)
	in.ids[v] = id
	return id
}

// Get returns the value behind id.
func (in *Interner[E]) Get(id Interned) E {
	return in.values[id]
}

// Len returns the number of distinct interned values.
func (in *Interner[E]) Len() int {
	return len(in.values)
}

// QueryGraph is the externally supplied graph the ranking rule graph is
// built on top of. Its nodes are opaque to this package; only the node
// count and the designated start/end nodes are needed to drive edge
// building and path enumeration.
type QueryGraph interface {
	NodeCount() int
	Start() uint16
	End() uint16
}

// EdgeCandidate is one candidate edge returned by Graph.BuildEdges for a
// given (source, dest) node pair, before it has been assigned an edge id.
type EdgeCandidate[E any] struct {
	Cost      uint8
	Condition EdgeCondition
}

// Graph is the pluggable capability bundle a concrete ranking rule (e.g.
// proximity, typo) implements. It replaces a dynamic-dispatch trait object:
// callers pass a concrete Graph[E] value, so the manager and graph never
// allocate hidden global state.
type Graph[E comparable] interface {
	// ResolveEdgeCondition computes the document ids satisfying condition,
	// restricted to universe.
	ResolveEdgeCondition(ctx context.Context, condition E, universe *roaring.Bitmap) (*roaring.Bitmap, error)
	// BuildEdges returns the cost and condition of every candidate edge
	// between sourceNode and destNode.
	BuildEdges(ctx context.Context, conditions *Interner[E], sourceNode, destNode uint16) ([]EdgeCandidate[E], error)
	// LabelForEdgeCondition returns a human-readable label, for logging only.
	LabelForEdgeCondition(condition E) string
	// LogState is an observability hook for callers to invoke; it never
	// affects results. EnumerateCheapestPaths does not call it.
	LogState(graph *RankingRuleGraph[E], paths [][]uint16, emptyPaths *EmptyPathsCache, universe *roaring.Bitmap, cost uint16, logger SearchLogger)
}

// SearchLogger is the observability sink passed to Graph.LogState.
// NoopLogger is always safe to pass.
type SearchLogger interface {
	LogRankingRuleGraphState(message string)
}

// NoopLogger discards every message.
type NoopLogger struct{}

// LogRankingRuleGraphState implements SearchLogger by discarding message.
func (NoopLogger) LogRankingRuleGraphState(string) {}

// RankingRuleGraph is the graph used by graph-based ranking rules. It keeps
// the same nodes as its QueryGraph but replaces the edges.
type RankingRuleGraph[E comparable] struct {
	QueryGraph  QueryGraph
	EdgesStore  []*Edge
	EdgesOfNode []*roaring.Bitmap
	Conditions  *Interner[E]
}

// New builds an empty RankingRuleGraph over qg: no edges yet, one (empty)
// outgoing-edge bitmap per node.
func New[E comparable](qg QueryGraph) *RankingRuleGraph[E] {
	n := qg.NodeCount()
	eon := make([]*roaring.Bitmap, n)
	for i := range eon {
		eon[i] = roaring.New()
	}
	return &RankingRuleGraph[E]{
		QueryGraph:  qg,
		EdgesOfNode: eon,
		Conditions:  NewInterner[E](),
	}
}

// Build populates the graph's edges by calling cap.BuildEdges for every
// (source, dest) pair in nodePairs. The pairs themselves come from the
// caller because the query graph's own adjacency is opaque to this package.
func (g *RankingRuleGraph[E]) Build(ctx context.Context, cap Graph[E], nodePairs [][2]uint16) error {
	for _, pair := range nodePairs {
		candidates, err := cap.BuildEdges(ctx, g.Conditions, pair[0], pair[1])
		if err != nil {
			return err
		}
		for _, c := range candidates {
			g.AddEdge(pair[0], pair[1], c.Cost, c.Condition)
		}
	}
	return nil
}

// AddEdge appends a new edge and returns its id. Edge ids are never reused
// within a build: removal only zeroes a slot, leaving a hole.
func (g *RankingRuleGraph[E]) AddEdge(source, dest uint16, cost uint8, condition EdgeCondition) uint16 {
	id := uint16(len(g.EdgesStore))
	g.EdgesStore = append(g.EdgesStore, &Edge{
		SourceNode: source,
		DestNode:   dest,
		Cost:       cost,
		Condition:  condition,
	})
	g.EdgesOfNode[source].Add(uint32(id))
	return id
}

// RemoveRankingRuleEdge removes edgeID from the graph: its slot is zeroed
// and it is cleared from its source node's outgoing bitmap. Idempotent on
// an already-absent slot.
func (g *RankingRuleGraph[E]) RemoveRankingRuleEdge(edgeID uint16) {
	if int(edgeID) >= len(g.EdgesStore) {
		return
	}
	e := g.EdgesStore[edgeID]
	if e == nil {
		return
	}
	g.EdgesStore[edgeID] = nil
	g.EdgesOfNode[e.SourceNode].Remove(uint32(edgeID))
}

// Edge returns the edge at id, or nil if it is a hole (removed or never
// assigned).
func (g *RankingRuleGraph[E]) Edge(id uint16) *Edge {
	if int(id) >= len(g.EdgesStore) {
		return nil
	}
	return g.EdgesStore[id]
}

// Package graph implements the strategy's directed node graph: topological
// ordering via Kahn's algorithm, leaf identification, and edge wiring over
// broadcast output handles.
package graph

import (
	"github.com/atlas-desktop/backtest-engine/internal/events"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
)

// Edge describes one wiring instruction: node u's output handle
// fromHandle feeds node v's input handle toHandle.
type Edge struct {
	FromNode   string
	FromHandle string
	ToNode     string
	ToHandle   string
}

// NodeHandles is the minimal surface the graph needs from a node to wire
// edges: lookup of an output handle by id, and registration of a new input
// subscription under a local input-handle id.
type NodeHandles interface {
	Output(handleID string) (*events.OutputHandle, bool)
	BindInput(inputHandleID, fromNodeID, fromHandleID string, sub *events.Subscription)
}

// Graph is the strategy's DAG, keyed by NodeId. It does not own node
// runtime state — only identity, adjacency, and leaf/topological queries —
// matching the spec's separation of graph routing from node runtime.
type Graph struct {
	nodes   map[string]NodeHandles
	order   []string // insertion order, used for deterministic iteration
	outEdges map[string][]Edge
	inDegree map[string]int
	finalized bool
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]NodeHandles),
		outEdges: make(map[string][]Edge),
		inDegree: make(map[string]int),
	}
}

// AddNode registers a node's handle surface under id.
func (g *Graph) AddNode(id string, handles NodeHandles) {
	if _, ok := g.nodes[id]; !ok {
		g.order = append(g.order, id)
	}
	g.nodes[id] = handles
	if _, ok := g.inDegree[id]; !ok {
		g.inDegree[id] = 0
	}
}

// AddEdge wires u's output handle to v's input handle: looks up u's output,
// subscribes, and binds the subscription into v via BindInput. Edges added
// after Finalize are disallowed.
func (g *Graph) AddEdge(e Edge) error {
	if g.finalized {
		return types.NewStrategyError(types.CodeEdgeConfigMissField, nil)
	}
	u, ok := g.nodes[e.FromNode]
	if !ok {
		return types.NewStrategyError(types.CodeNodeNotFound, nil)
	}
	v, ok := g.nodes[e.ToNode]
	if !ok {
		return types.NewStrategyError(types.CodeNodeNotFound, nil)
	}
	out, ok := u.Output(e.FromHandle)
	if !ok {
		return types.NewStrategyError(types.CodeNodeConfigNull, nil)
	}
	sub := out.Subscribe()
	v.BindInput(e.ToHandle, e.FromNode, e.FromHandle, sub)

	g.outEdges[e.FromNode] = append(g.outEdges[e.FromNode], e)
	g.inDegree[e.ToNode]++
	return nil
}

// Finalize locks the graph against further edges and returns the
// topological order computed via Kahn's algorithm. A cycle fails with
// NodeCycleDetected.
func (g *Graph) Finalize() ([]string, error) {
	g.finalized = true
	return g.TopologicalOrder()
}

// TopologicalOrder runs Kahn's algorithm over the current edge set.
func (g *Graph) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		inDegree[id] = d
	}

	var queue []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var result []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)
		for _, e := range g.outEdges[id] {
			inDegree[e.ToNode]--
			if inDegree[e.ToNode] == 0 {
				queue = append(queue, e.ToNode)
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, types.NewStrategyError(types.CodeNodeCycleDetected, nil)
	}
	return result, nil
}

// ReverseTopologicalOrder returns the topological order reversed, used to
// stop nodes in dependency-safe order.
func (g *Graph) ReverseTopologicalOrder() ([]string, error) {
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(order))
	for i, id := range order {
		out[len(order)-1-i] = id
	}
	return out, nil
}

// Leaves returns every node with no outbound graph edge (only the implicit
// strategy handle). These are the nodes expected to emit ExecuteOver.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.outEdges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// NodeIDs returns every registered node id in insertion order.
func (g *Graph) NodeIDs() []string {
	return append([]string(nil), g.order...)
}

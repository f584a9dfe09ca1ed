package graph

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/events"
)

// fakeNode is the minimal NodeHandles implementation the graph tests wire
// against, standing in for a real node.Runtime.
type fakeNode struct {
	outputs map[string]*events.OutputHandle
	inputs  []string
}

func newFakeNode(outputHandles ...string) *fakeNode {
	n := &fakeNode{outputs: make(map[string]*events.OutputHandle)}
	for _, h := range outputHandles {
		n.outputs[h] = events.NewOutputHandle(h)
	}
	return n
}

func (n *fakeNode) Output(handleID string) (*events.OutputHandle, bool) {
	h, ok := n.outputs[handleID]
	return h, ok
}

func (n *fakeNode) BindInput(inputHandleID, fromNodeID, fromHandleID string, sub *events.Subscription) {
	n.inputs = append(n.inputs, inputHandleID)
}

func TestTopologicalOrderLinearChain(t *testing.T) {
	g := New()
	a := newFakeNode("out")
	b := newFakeNode("out")
	c := newFakeNode("out")
	g.AddNode("a", a)
	g.AddNode("b", b)
	g.AddNode("c", c)

	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "b", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge a->b: %v", err)
	}
	if err := g.AddEdge(Edge{FromNode: "b", FromHandle: "out", ToNode: "c", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge b->c: %v", err)
	}

	order, err := g.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order[%d] = %q, want %q (full: %v)", i, order[i], id, order)
		}
	}
}

func TestFinalizeRejectsCycle(t *testing.T) {
	g := New()
	a := newFakeNode("out")
	b := newFakeNode("out")
	g.AddNode("a", a)
	g.AddNode("b", b)
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "b", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge a->b: %v", err)
	}
	if err := g.AddEdge(Edge{FromNode: "b", FromHandle: "out", ToNode: "a", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge b->a: %v", err)
	}

	if _, err := g.Finalize(); err == nil {
		t.Fatal("expected cycle detection error, got nil")
	}
}

func TestAddEdgeAfterFinalizeFails(t *testing.T) {
	g := New()
	g.AddNode("a", newFakeNode("out"))
	g.AddNode("b", newFakeNode("out"))
	if _, err := g.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "b", ToHandle: "in"}); err == nil {
		t.Fatal("expected AddEdge after Finalize to fail")
	}
}

func TestLeaves(t *testing.T) {
	g := New()
	g.AddNode("a", newFakeNode("out"))
	g.AddNode("b", newFakeNode("out"))
	g.AddNode("c", newFakeNode("out"))
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "b", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	leaves := g.Leaves()
	if len(leaves) != 2 {
		t.Fatalf("Leaves() = %v, want 2 entries (b and c)", leaves)
	}
	seen := map[string]bool{}
	for _, id := range leaves {
		seen[id] = true
	}
	if !seen["b"] || !seen["c"] {
		t.Fatalf("Leaves() = %v, want b and c", leaves)
	}
}

func TestReverseTopologicalOrder(t *testing.T) {
	g := New()
	g.AddNode("a", newFakeNode("out"))
	g.AddNode("b", newFakeNode("out"))
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "b", ToHandle: "in"}); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}
	rev, err := g.ReverseTopologicalOrder()
	if err != nil {
		t.Fatalf("ReverseTopologicalOrder: %v", err)
	}
	if len(rev) != 2 || rev[0] != "b" || rev[1] != "a" {
		t.Fatalf("ReverseTopologicalOrder() = %v, want [b a]", rev)
	}
}

func TestAddEdgeUnknownNode(t *testing.T) {
	g := New()
	g.AddNode("a", newFakeNode("out"))
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "out", ToNode: "missing", ToHandle: "in"}); err == nil {
		t.Fatal("expected error wiring an edge to an unknown node")
	}
}

func TestAddEdgeUnknownHandle(t *testing.T) {
	g := New()
	g.AddNode("a", newFakeNode("out"))
	g.AddNode("b", newFakeNode("out"))
	if err := g.AddEdge(Edge{FromNode: "a", FromHandle: "no_such_handle", ToNode: "b", ToHandle: "in"}); err == nil {
		t.Fatal("expected error wiring an edge from an unknown output handle")
	}
}

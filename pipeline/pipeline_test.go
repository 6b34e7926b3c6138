package pipeline

import (
	"testing"
	"time"

	"github.com/oscillo/scopewatch/model"
)

type recordingNode struct {
	BaseNode
	name      string
	protected bool
	emit      func(ctx *Context)
	activated int
	deactivated int
}

func (n *recordingNode) Name() string    { return n.name }
func (n *recordingNode) Protected() bool { return n.protected }
func (n *recordingNode) Ports() []Port {
	return []Port{{Name: "p", Dir: PortOutput, Kind: PortDataStream}}
}
func (n *recordingNode) OnActivate(ctx *Context)   { n.activated++ }
func (n *recordingNode) OnDeactivate(ctx *Context) { n.deactivated++ }
func (n *recordingNode) OnData(ctx *Context) {
	if n.emit != nil {
		n.emit(ctx)
	}
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	p := New(0)
	a := p.AddNode(&recordingNode{name: "a"})
	if err := p.AddEdge(a, a, 0, 0); err == nil {
		t.Error("expected error adding self-loop edge")
	}
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	p := New(0)
	a := p.AddNode(&recordingNode{name: "a"})
	b := p.AddNode(&recordingNode{name: "b"})
	if err := p.AddEdge(a, b, 0, 0); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := p.AddEdge(b, a, 0, 0); err == nil {
		t.Error("expected error adding edge that would close a cycle")
	}
}

func TestRemoveNodeRejectsProtected(t *testing.T) {
	p := New(0)
	a := p.AddNode(&recordingNode{name: "sampler", protected: true})
	if _, err := p.RemoveNode(a); err == nil {
		t.Error("expected error removing a protected node")
	}
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	p := New(0)
	a := p.AddNode(&recordingNode{name: "a"})
	b := p.AddNode(&recordingNode{name: "b"})
	if err := p.AddEdge(a, b, 0, 0); err != nil {
		t.Fatalf("add edge: %v", err)
	}
	if _, err := p.RemoveNode(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(p.edges) != 0 {
		t.Errorf("expected incident edges removed, got %d", len(p.edges))
	}
}

func TestTickPropagatesSamplesAlongEdges(t *testing.T) {
	p := New(0)
	src := &recordingNode{name: "src", emit: func(ctx *Context) {
		ctx.Out.Samples = append(ctx.Out.Samples, model.Sample{VarID: 1, Raw: 9})
	}}
	a := p.AddNode(src)
	var gotSamples []model.Sample
	sink := &recordingNode{name: "sink", emit: func(ctx *Context) {
		gotSamples = append(gotSamples, ctx.In.Samples...)
	}}
	b := p.AddNode(sink)
	if err := p.AddEdge(a, b, 0, 0); err != nil {
		t.Fatalf("add edge: %v", err)
	}

	p.Start()
	p.Tick(time.Second, nil)

	if len(gotSamples) != 1 || gotSamples[0].VarID != 1 || gotSamples[0].Raw != 9 {
		t.Errorf("sink saw samples %+v, want one {VarID:1 Raw:9}", gotSamples)
	}
	if src.activated != 1 {
		t.Errorf("src activated %d times, want 1", src.activated)
	}
}

func TestTopologicalOrderRespectsEdges(t *testing.T) {
	p := New(0)
	var order []string
	mk := func(name string) *recordingNode {
		return &recordingNode{name: name, emit: func(ctx *Context) { order = append(order, name) }}
	}
	c := mk("c")
	b := mk("b")
	a := mk("a")
	idA := p.AddNode(a)
	idB := p.AddNode(b)
	idC := p.AddNode(c)
	if err := p.AddEdge(idB, idC, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEdge(idA, idB, 0, 0); err != nil {
		t.Fatal(err)
	}

	p.Start()
	p.Tick(0, nil)

	posA, posB, posC := indexOf(order, "a"), indexOf(order, "b"), indexOf(order, "c")
	if !(posA < posB && posB < posC) {
		t.Errorf("execution order %v does not respect a->b->c", order)
	}
}

func indexOf(xs []string, v string) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}

func TestFanoutCopiesIndependently(t *testing.T) {
	p := New(0)
	src := &recordingNode{name: "src", emit: func(ctx *Context) {
		ctx.Out.Samples = append(ctx.Out.Samples, model.Sample{VarID: 1, Raw: 1})
	}}
	a := p.AddNode(src)

	var s1Count, s2Count int
	sink1 := &recordingNode{name: "s1", emit: func(ctx *Context) {
		s1Count = len(ctx.In.Samples)
		ctx.In.Samples[0].Raw = 100 // mutate this copy
	}}
	sink2 := &recordingNode{name: "s2", emit: func(ctx *Context) {
		s2Count = len(ctx.In.Samples)
	}}
	b := p.AddNode(sink1)
	c := p.AddNode(sink2)
	if err := p.AddEdge(a, b, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEdge(a, c, 0, 0); err != nil {
		t.Fatal(err)
	}

	p.Start()
	p.Tick(0, nil)

	if s1Count != 1 || s2Count != 1 {
		t.Fatalf("fanout counts = %d,%d, want 1,1", s1Count, s2Count)
	}
}

func TestStartStopInvokesLifecycle(t *testing.T) {
	p := New(0)
	n := &recordingNode{name: "n"}
	p.AddNode(n)
	p.Start()
	p.Stop()
	if n.activated != 1 || n.deactivated != 1 {
		t.Errorf("activated=%d deactivated=%d, want 1,1", n.activated, n.deactivated)
	}
}

// Package pipeline implements a dataflow runtime: a directed acyclic
// graph of nodes, each tick's drain-recompile-clear-invoke-propagate
// sequence, and the rate-limited run loop that drives it at a configured
// tick rate.
package pipeline

import (
	"time"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/scopeerr"
)

type slot struct {
	id      int
	node    Node
	deleted bool
	in      model.DataPacket
	out     model.DataPacket
}

// edge connects one node's output to another's input. Port indices are
// kept for fidelity to each node's port descriptor list even though this
// implementation propagates at node granularity.
type edge struct {
	from, to         int
	fromPort, toPort int
}

// resolvedEdge is an (index, index) pair into activeNodes, pre-validated
// so the hot-loop propagation step needs no bounds checks.
type resolvedEdge struct {
	fromIdx, toIdx int
}

// Pipeline owns the node graph and drives its tick loop. It is meant to
// be used from exactly one goroutine.
type Pipeline struct {
	nextID int
	slots  map[int]*slot
	edges  []edge

	dirty      bool
	generation int
	active     []int // node ids in topological order
	plan       []resolvedEdge

	running     bool
	tick        uint64
	lastTickNow time.Duration

	TickRate int // Hz; 0 means idle-sleep 10ms

	onGraphError   func(message string)
	onInactiveNode func(id int, name string)
}

// New builds an empty Pipeline.
func New(tickRate int) *Pipeline {
	return &Pipeline{
		slots:    make(map[int]*slot),
		dirty:    true,
		TickRate: tickRate,
	}
}

// OnGraphError installs a callback invoked whenever a graph mutation is
// rejected, to report a GraphError message back to the UI.
func (p *Pipeline) OnGraphError(fn func(message string)) { p.onGraphError = fn }

// OnInactiveNode installs a callback invoked during recompile for every
// node disconnected from the rest of the graph, so callers can log
// whether any inactive sinks exist.
func (p *Pipeline) OnInactiveNode(fn func(id int, name string)) { p.onInactiveNode = fn }

func (p *Pipeline) reportGraphError(format string, args ...any) error {
	err := scopeerr.New(scopeerr.KindGraph, format, args...)
	if p.onGraphError != nil {
		p.onGraphError(err.Error())
	}
	return err
}

// AddNode registers a node and returns its stable numeric id.
func (p *Pipeline) AddNode(n Node) int {
	id := p.nextID
	p.nextID++
	p.slots[id] = &slot{id: id, node: n}
	p.dirty = true
	return id
}

// RemoveNode deletes a node and all incident edges. Protected nodes
// (the Sampler) cannot be removed.
func (p *Pipeline) RemoveNode(id int) (removedPane bool, err error) {
	s, ok := p.slots[id]
	if !ok || s.deleted {
		return false, p.reportGraphError("remove_node: node %d does not exist", id)
	}
	if s.node.Protected() {
		return false, p.reportGraphError("remove_node: node %d (%s) is protected", id, s.node.Name())
	}
	s.deleted = true
	delete(p.slots, id)

	kept := p.edges[:0]
	for _, e := range p.edges {
		if e.from == id || e.to == id {
			continue
		}
		kept = append(kept, e)
	}
	p.edges = kept
	p.dirty = true
	return true, nil
}

// AddEdge connects an output port on from to an input port on to.
// Rejects self-loops, missing endpoints, and edges that would close a
// cycle (a path from to back to from already exists).
func (p *Pipeline) AddEdge(from, to, fromPort, toPort int) error {
	if from == to {
		return p.reportGraphError("add_edge: self-loop on node %d", from)
	}
	if _, ok := p.slots[from]; !ok {
		return p.reportGraphError("add_edge: source node %d does not exist", from)
	}
	if _, ok := p.slots[to]; !ok {
		return p.reportGraphError("add_edge: destination node %d does not exist", to)
	}
	if p.pathExists(to, from) {
		return p.reportGraphError("add_edge: %d -> %d would close a cycle", from, to)
	}
	p.edges = append(p.edges, edge{from: from, to: to, fromPort: fromPort, toPort: toPort})
	p.dirty = true
	return nil
}

// RemoveEdge deletes the first matching edge, if any.
func (p *Pipeline) RemoveEdge(from, to int) {
	for i, e := range p.edges {
		if e.from == from && e.to == to {
			p.edges = append(p.edges[:i], p.edges[i+1:]...)
			p.dirty = true
			return
		}
	}
}

// pathExists reports whether a directed path from start to target exists
// via depth-first search, used by AddEdge's cycle check.
func (p *Pipeline) pathExists(start, target int) bool {
	if start == target {
		return true
	}
	visited := map[int]bool{}
	var dfs func(n int) bool
	dfs = func(n int) bool {
		if n == target {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for _, e := range p.edges {
			if e.from == n && dfs(e.to) {
				return true
			}
		}
		return false
	}
	return dfs(start)
}

// MarkDirty forces a recompile on the next Tick.
func (p *Pipeline) MarkDirty() { p.dirty = true }

// Generation returns the plan generation counter, bumped on every
// recompile.
func (p *Pipeline) Generation() int { return p.generation }

// recompile rebuilds the active-node order via Kahn's algorithm and
// pre-resolves active edges to index pairs.
func (p *Pipeline) recompile() {
	indeg := make(map[int]int, len(p.slots))
	for id := range p.slots {
		indeg[id] = 0
	}
	for _, e := range p.edges {
		indeg[e.to]++
	}

	var queue []int
	for id := range p.slots {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	// Deterministic order: lowest id first among ready nodes.
	sortInts(queue)

	order := make([]int, 0, len(p.slots))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		var freed []int
		for _, e := range p.edges {
			if e.from != n {
				continue
			}
			indeg[e.to]--
			if indeg[e.to] == 0 {
				freed = append(freed, e.to)
			}
		}
		sortInts(freed)
		queue = append(queue, freed...)
		sortInts(queue)
	}

	p.active = order
	idxOf := make(map[int]int, len(order))
	for i, id := range order {
		idxOf[id] = i
	}
	plan := make([]resolvedEdge, 0, len(p.edges))
	hasSink := make(map[int]bool)
	hasSource := make(map[int]bool)
	for _, e := range p.edges {
		fi, fok := idxOf[e.from]
		ti, tok := idxOf[e.to]
		if !fok || !tok {
			continue // endpoint was deleted since the edge was added
		}
		plan = append(plan, resolvedEdge{fromIdx: fi, toIdx: ti})
		hasSource[e.to] = true
		hasSink[e.from] = true
	}
	p.plan = plan
	p.generation++
	p.dirty = false

	if p.onInactiveNode == nil {
		return
	}
	for id, s := range p.slots {
		if len(s.node.Ports()) == 0 || len(p.slots) <= 1 {
			continue
		}
		if !hasSink[id] && !hasSource[id] {
			p.onInactiveNode(id, s.node.Name())
		}
	}
}

func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

// Start activates every non-deleted node in topological order.
func (p *Pipeline) Start() {
	if p.dirty {
		p.recompile()
	}
	p.running = true
	p.tick = 0
	p.lastTickNow = 0
	ctx := &Context{Now: 0, Dt: 0, Tick: 0}
	for _, id := range p.active {
		s := p.slots[id]
		if s.deleted {
			continue
		}
		s.node.OnActivate(ctx)
	}
}

// Stop deactivates every non-deleted node.
func (p *Pipeline) Stop() {
	p.running = false
	ctx := &Context{}
	for _, id := range p.active {
		s := p.slots[id]
		if s.deleted {
			continue
		}
		s.node.OnDeactivate(ctx)
	}
}

func (p *Pipeline) IsRunning() bool { return p.running }

// Tick runs one iteration of the per-tick loop: recompile, clear, then
// invoke each node in topological order, copying its output along its
// outgoing edges right after it runs so downstream nodes see it in the
// same tick. Command draining and rate limiting are the
// caller's responsibility (see RunLoop), since they depend on the bus
// and clock which this package does not own.
func (p *Pipeline) Tick(now time.Duration, variables map[int]*model.Variable) {
	if p.dirty {
		p.recompile()
	}
	p.tick++

	for _, id := range p.active {
		s := p.slots[id]
		s.in.Reset()
		s.out.Reset()
	}

	dt := now - p.lastTickNow
	p.lastTickNow = now

	for i, id := range p.active {
		s := p.slots[id]
		ctx := &Context{
			In:        &s.in,
			Out:       &s.out,
			Variables: variables,
			Now:       now,
			Dt:        dt,
			Tick:      p.tick,
		}
		s.node.OnData(ctx)

		for _, re := range p.plan {
			if re.fromIdx != i {
				continue
			}
			to := p.slots[p.active[re.toIdx]]
			clone := s.out.Clone()
			to.in.Samples = append(to.in.Samples, clone.Samples...)
			to.in.Events = append(to.in.Events, clone.Events...)
			to.in.Timestamp = clone.Timestamp
		}
	}
}

// Node returns the node registered under id, if any.
func (p *Pipeline) Node(id int) (Node, bool) {
	s, ok := p.slots[id]
	if !ok || s.deleted {
		return nil, false
	}
	return s.node, true
}

// Output returns the current tick's output packet for id, for sinks that
// need to read a node's output directly (e.g. a bus-publishing sink
// wired as a terminal node reads its own In, not another node's Out).
func (p *Pipeline) Output(id int) (*model.DataPacket, bool) {
	s, ok := p.slots[id]
	if !ok {
		return nil, false
	}
	return &s.out, true
}

// RunLoop drives Tick at p.TickRate with a hybrid sleep+spin strategy,
// calling drainCommands (non-blocking) before each tick and stopping
// when stop is closed.
func RunLoop(p *Pipeline, variables map[int]*model.Variable, drainCommands func(), stop <-chan struct{}) {
	start := time.Now()
	next := start
	for {
		select {
		case <-stop:
			return
		default:
		}

		drainCommands()

		now := time.Since(start)
		p.Tick(now, variables)

		period := 10 * time.Millisecond
		if p.TickRate > 0 {
			period = time.Second / time.Duration(p.TickRate)
		}
		next = next.Add(period)
		sleepUntilNear(next, time.Millisecond)
	}
}

// sleepUntilNear sleeps until margin before deadline, then busy-waits the
// remainder for sub-millisecond precision.
func sleepUntilNear(deadline time.Time, margin time.Duration) {
	now := time.Now()
	sleepFor := deadline.Sub(now) - margin
	if sleepFor > 0 {
		time.Sleep(sleepFor)
	}
	for time.Now().Before(deadline) {
		// spin
	}
}

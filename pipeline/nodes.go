package pipeline

import (
	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/sampler"
	"github.com/oscillo/scopewatch/transform"
)

// SamplerNode adapts a *sampler.Sampler into the graph as the source
// node. It is protected from removal, since it is the node exposing the
// real probe.
type SamplerNode struct {
	BaseNode
	s *sampler.Sampler
}

// NewSamplerNode wraps s as the graph's source node.
func NewSamplerNode(s *sampler.Sampler) *SamplerNode { return &SamplerNode{s: s} }

func (n *SamplerNode) Name() string { return "Sampler" }
func (n *SamplerNode) Ports() []Port {
	return []Port{{Name: "samples", Dir: PortOutput, Kind: PortDataStream}}
}
func (n *SamplerNode) Protected() bool { return true }

func (n *SamplerNode) OnActivate(ctx *Context)   { n.s.Start() }
func (n *SamplerNode) OnDeactivate(ctx *Context) { n.s.Stop() }

func (n *SamplerNode) OnData(ctx *Context) {
	packet, err := n.s.Tick(ctx.Now.Seconds())
	if err != nil {
		ctx.Out.Events = append(ctx.Out.Events, model.PipelineEvent{
			Kind: model.EventConnectionError, VarID: -1, NodeID: -1, Message: err.Error(),
		})
		return
	}
	if packet == nil {
		return
	}
	ctx.Out.Timestamp = packet.Timestamp
	ctx.Out.Samples = append(ctx.Out.Samples, packet.Samples...)
	ctx.Out.Events = append(ctx.Out.Events, packet.Events...)
}

// TransformNode adapts a *transform.Stage into the graph: it applies
// each variable's converter script to the raw samples it receives from
// its upstream edge.
type TransformNode struct {
	BaseNode
	stage *transform.Stage
}

// NewTransformNode wraps stage as a mid-pipeline conversion node.
func NewTransformNode(stage *transform.Stage) *TransformNode {
	return &TransformNode{stage: stage}
}

func (n *TransformNode) Name() string { return "ScriptTransform" }
func (n *TransformNode) Ports() []Port {
	return []Port{
		{Name: "in", Dir: PortInput, Kind: PortDataStream},
		{Name: "out", Dir: PortOutput, Kind: PortDataStream},
	}
}

func (n *TransformNode) OnActivate(ctx *Context)   { n.stage.Start() }
func (n *TransformNode) OnDeactivate(ctx *Context) { n.stage.Stop() }

func (n *TransformNode) OnData(ctx *Context) {
	ctx.Out.Timestamp = ctx.In.Timestamp
	ctx.Out.Samples = append(ctx.Out.Samples, ctx.In.Samples...)
	ctx.Out.Events = append(ctx.Out.Events, ctx.In.Events...)
	n.stage.Apply(ctx.Out, ctx.Variables, ctx.Now.Seconds())
}

// SinkFunc is a terminal node that forwards every tick's input packet to
// an arbitrary consumer (the bus publisher, the recorder, the exporter).
// It has no output port: whatever it receives is this graph's final
// destination.
type SinkFunc struct {
	BaseNode
	name    string
	forward func(packet *model.DataPacket)
}

// NewSink builds a terminal node named name that calls forward with a
// clone of each tick's accumulated input.
func NewSink(name string, forward func(packet *model.DataPacket)) *SinkFunc {
	return &SinkFunc{name: name, forward: forward}
}

func (n *SinkFunc) Name() string { return n.name }
func (n *SinkFunc) Ports() []Port {
	return []Port{{Name: "in", Dir: PortInput, Kind: PortDataStream}}
}

func (n *SinkFunc) OnData(ctx *Context) {
	if n.forward == nil {
		return
	}
	clone := ctx.In.Clone()
	n.forward(&clone)
}

package pipeline

import (
	"time"

	"github.com/oscillo/scopewatch/model"
)

// PortDirection classifies a port as data flowing in or out of a node.
type PortDirection int

const (
	PortInput PortDirection = iota
	PortOutput
)

// PortKind distinguishes the two payload shapes a port may carry.
type PortKind int

const (
	PortDataStream PortKind = iota
	PortEvent
)

// Port describes one connection point on a node.
type Port struct {
	Name string
	Dir  PortDirection
	Kind PortKind
}

// Context is passed to every node lifecycle callback for one tick. A
// node must only write to In/Out (its own buffers) and must never
// mutate Variables or another node's state.
type Context struct {
	In  *model.DataPacket
	Out *model.DataPacket

	Variables map[int]*model.Variable

	Now  time.Duration
	Dt   time.Duration
	Tick uint64
}

// Node is the per-node surface every pipeline participant implements.
type Node interface {
	Name() string
	Ports() []Port
	// Protected reports whether RemoveNode must refuse to delete this
	// node, e.g. the node exposing the real probe.
	Protected() bool

	OnActivate(ctx *Context)
	OnData(ctx *Context)
	OnDeactivate(ctx *Context)
	OnConfigChange(key string, value any, ctx *Context)
}

// BaseNode supplies no-op defaults for the lifecycle hooks a concrete
// node doesn't care about: embed it and override only what matters.
type BaseNode struct{}

func (BaseNode) OnActivate(ctx *Context)                        {}
func (BaseNode) OnDeactivate(ctx *Context)                       {}
func (BaseNode) OnConfigChange(key string, value any, ctx *Context) {}
func (BaseNode) Protected() bool                                { return false }

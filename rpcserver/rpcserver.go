// Package rpcserver exposes the UI-facing control surface as a JSON-RPC
// service: an atomic.Value status snapshot, one jsonrpc.ServerCodec per
// TCP connection so requests from a single client are handled
// synchronously (no per-request locking needed) while distinct
// connections still run concurrently, and a background broadcast loop.
// Updates are not pushed to clients directly; instead this package
// issues bus.Command values onto a bus.CommandQueue and reads
// bus.Message values back off a bus.MessageQueue, since the UI and
// pipeline already communicate that way and the RPC surface is just
// another producer/consumer of the same bus.
package rpcserver

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"

	"github.com/oscillo/scopewatch/bus"
	"github.com/oscillo/scopewatch/model"
)

// Status is the snapshot RPC clients poll: connection status and stats
// folded into one queryable struct rather than a push-only stream, since
// net/rpc is inherently request/response.
type Status struct {
	Connected        bool
	Running          bool
	ProbeSelector    string
	VariableCount    int
	Stats            model.CollectionStats
	LastError        string
	RecorderBusy     bool
}

// Control is the RPC-registered service. Every method except GetStatus
// enqueues a bus.Command and returns as soon as it is queued; none waits
// for a reply on the message queue.
type Control struct {
	commands *bus.CommandQueue
	messages *bus.MessageQueue

	status     atomic.Value // Status
	nextReqID  atomic.Int64
	verbose    bool
}

// NewControl builds a Control bridging an already-running pipeline's bus
// endpoints to RPC clients.
func NewControl(commands *bus.CommandQueue, messages *bus.MessageQueue, verbose bool) *Control {
	c := &Control{commands: commands, messages: messages, verbose: verbose}
	c.status.Store(Status{})
	return c
}

// statusSnapshot atomically loads the current status snapshot.
func (c *Control) statusSnapshot() Status { return c.status.Load().(Status) }

// setStatus atomically stores a new status snapshot.
func (c *Control) setStatus(s Status) { c.status.Store(s) }

// nextRequestID hands out correlation ids for commands whose reply must be
// matched up later: RequestID correlates WriteVariable with its
// WriteSuccess/WriteError reply.
func (c *Control) nextRequestID() int { return int(c.nextReqID.Add(1)) }

// ConnectArgs is the argument to Control.Connect.
type ConnectArgs struct {
	ProbeSelector string
}

// Connect issues a CmdConnect.
func (c *Control) Connect(args *ConnectArgs, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdConnect, ProbeSelector: args.ProbeSelector})
	*reply = err == nil
	c.logCall("Connect", args, err)
	return err
}

// Disconnect issues a CmdDisconnect, following the resume-before-release
// policy.
func (c *Control) Disconnect(_ *struct{}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdDisconnect})
	*reply = err == nil
	c.logCall("Disconnect", nil, err)
	return err
}

// Start issues a CmdStart.
func (c *Control) Start(_ *struct{}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdStart})
	*reply = err == nil
	return err
}

// Stop issues a CmdStop.
func (c *Control) Stop(_ *struct{}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdStop})
	*reply = err == nil
	return err
}

// AddVariableArgs is the argument to Control.AddVariable.
type AddVariableArgs struct {
	Variable model.Variable
}

// AddVariable issues a CmdAddVariable.
func (c *Control) AddVariable(args *AddVariableArgs, reply *bool) error {
	v := args.Variable
	err := c.commands.Send(bus.Command{Kind: bus.CmdAddVariable, Variable: &v})
	*reply = err == nil
	c.logCall("AddVariable", args, err)
	return err
}

// RemoveVariable issues a CmdRemoveVariable for the given variable id.
func (c *Control) RemoveVariable(varID *int, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdRemoveVariable, VarID: *varID})
	*reply = err == nil
	return err
}

// UpdateVariable issues a CmdUpdateVariable, editing an existing
// variable's definition in place.
func (c *Control) UpdateVariable(args *AddVariableArgs, reply *bool) error {
	v := args.Variable
	err := c.commands.Send(bus.Command{Kind: bus.CmdUpdateVariable, VarID: v.ID, Variable: &v})
	*reply = err == nil
	return err
}

// WriteVariableArgs is the argument to Control.WriteVariable.
type WriteVariableArgs struct {
	VarID int
	Value float64
}

// WriteVariableReply carries the correlation id a client should watch for
// on its message queue.
type WriteVariableReply struct {
	RequestID int
	Accepted  bool
}

// WriteVariable issues a CmdWriteVariable, returning the request id the
// eventual WriteSuccess/WriteError message will carry.
func (c *Control) WriteVariable(args *WriteVariableArgs, reply *WriteVariableReply) error {
	reqID := c.nextRequestID()
	err := c.commands.Send(bus.Command{
		Kind: bus.CmdWriteVariable, RequestID: reqID, VarID: args.VarID, Value: args.Value,
	})
	reply.RequestID = reqID
	reply.Accepted = err == nil
	c.logCall("WriteVariable", args, err)
	return err
}

// SetPollRate issues a CmdSetPollRate for one variable.
func (c *Control) SetPollRate(args *struct {
	VarID      int
	PollRateHz float64
}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdSetPollRate, VarID: args.VarID, PollRateHz: args.PollRateHz})
	*reply = err == nil
	return err
}

// SetMemoryAccessMode issues a CmdSetMemoryAccessMode carrying the
// textual probe access mode (background, halted or halted-persistent).
func (c *Control) SetMemoryAccessMode(mode *string, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdSetMemoryAccessMode, AccessMode: *mode})
	*reply = err == nil
	return err
}

// ClearData issues a CmdClearData.
func (c *Control) ClearData(_ *struct{}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdClearData})
	*reply = err == nil
	return err
}

// RequestStats issues a CmdRequestStats, prompting an out-of-band
// MsgStats reply on the message queue rather than returning data
// directly, matching how the bus already pushes stats every 500ms; this
// method exists for clients that want one immediately rather than
// waiting for the next tick.
func (c *Control) RequestStats(_ *struct{}, reply *bool) error {
	err := c.commands.Send(bus.Command{Kind: bus.CmdRequestStats})
	*reply = err == nil
	return err
}

// GetStatus returns the most recent status snapshot folded in from the
// message queue by the background pump.
func (c *Control) GetStatus(_ *struct{}, reply *Status) error {
	*reply = c.statusSnapshot()
	return nil
}

// pumpMessages drains the pipeline-to-UI message queue into the status
// snapshot.
func (c *Control) pumpMessages() {
	for _, m := range c.messages.DrainAll() {
		s := c.statusSnapshot()
		switch m.Kind {
		case bus.MsgConnectionStatus:
			s.Connected = m.Connected
		case bus.MsgConnectionError, bus.MsgNodeError, bus.MsgReadError, bus.MsgWriteError, bus.MsgGraphError:
			s.LastError = m.Message
		case bus.MsgStats:
			s.Stats = m.Stats
		case bus.MsgRecorderStatus:
			s.RecorderBusy = m.RecorderBusy
		case bus.MsgVariableList:
			s.VariableCount = len(m.Variables)
		}
		c.setStatus(s)
	}
}

func (c *Control) logCall(method string, args any, err error) {
	if !c.verbose {
		return
	}
	if err != nil {
		log.Printf("rpcserver: %s failed: %v\nargs: %s", method, err, spew.Sdump(args))
		return
	}
	log.Printf("rpcserver: %s ok\nargs: %s", method, spew.Sdump(args))
}

// SeedFromConfig primes the status snapshot's ProbeSelector from a
// project's viper-backed config at startup, before the first client
// connects.
func SeedFromConfig(c *Control, v *viper.Viper) {
	probeSelector := v.GetString("config.probe.probe_selector")
	s := c.statusSnapshot()
	s.ProbeSelector = probeSelector
	c.setStatus(s)
}

// RunServer starts the permanent JSON-RPC server on port, registering
// ctl. If block is true it blocks until SIGINT, then issues a
// CmdShutdown before returning.
func RunServer(port int, ctl *Control, block bool) error {
	server := rpc.NewServer()
	if err := server.Register(ctl); err != nil {
		return fmt.Errorf("rpcserver: register: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("rpcserver: listen: %w", err)
	}

	go pumpLoop(ctl)

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				log.Printf("rpcserver: accept error: %v", err)
				return
			}
			log.Printf("rpcserver: new connection from %s", conn.RemoteAddr())
			go func() {
				// One codec per connection serializes that connection's
				// requests; distinct connections still run concurrently.
				codec := jsonrpc.NewServerCodec(conn)
				for {
					if err := server.ServeRequest(codec); err != nil {
						log.Printf("rpcserver: connection closed: %v", err)
						return
					}
				}
			}()
		}
	}()

	if block {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
		var reply bool
		ctl.commands.Send(bus.Command{Kind: bus.CmdShutdown})
		_ = ctl.Stop(nil, &reply)
	}
	return nil
}

// pumpLoop periodically folds queued messages into the status snapshot.
func pumpLoop(ctl *Control) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		ctl.pumpMessages()
	}
}

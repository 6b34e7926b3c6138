// Package bus implements the command/event bus bridging the UI thread
// and the pipeline thread: two bounded single-producer/single-consumer
// queues, one per direction.
package bus

import (
	"time"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/sampler"
)

// CommandKind tags the UI-to-pipeline queue's payload.
type CommandKind int

const (
	CmdConnect CommandKind = iota
	CmdDisconnect
	CmdStart
	CmdStop
	CmdAddVariable
	CmdRemoveVariable
	CmdUpdateVariable
	CmdWriteVariable
	CmdSetPollRate
	CmdSetMemoryAccessMode
	CmdClearData
	CmdNodeConfig
	CmdRefreshProbes
	CmdRequestStats
	CmdRequestVariableTree
	CmdRequestTopology
	CmdAddNode
	CmdRemoveNode
	CmdAddEdge
	CmdRemoveEdge
	CmdShutdown
)

// Command is one entry on the UI-to-pipeline queue. Only the fields
// relevant to Kind are populated; the rest are zero.
type Command struct {
	Kind CommandKind

	RequestID int // correlates WriteVariable with its WriteSuccess/WriteError reply

	VarID    int
	Variable *model.Variable

	PollRateHz float64
	AccessMode string // textual mode name; probe.ParseAccessMode parses it
	Value      float64

	NodeID     int
	NodeConfig struct {
		Key   string
		Value any
	}
	EdgeFrom, EdgeTo, EdgePortFrom, EdgePortTo int

	ProbeSelector string
	PaneID        int
}

// MessageKind tags the pipeline-to-UI queue's payload.
type MessageKind int

const (
	MsgDataBatch MessageKind = iota
	MsgGraphDataBatch
	MsgStats
	MsgConnectionStatus
	MsgConnectionError
	MsgNodeError
	MsgVariableList
	MsgProbeList
	MsgWriteSuccess
	MsgWriteError
	MsgReadError
	MsgRecorderStatus
	MsgExporterStatus
	MsgRecordingComplete
	MsgVariableTreeSnapshot
	MsgTopology
	MsgGraphError
	MsgShutdown
)

// Message is one entry on the pipeline-to-UI queue.
type Message struct {
	Kind MessageKind

	RequestID int

	Batch  *model.DataPacket
	PaneID int

	Stats model.CollectionStats

	Connected bool
	Message   string

	VarID    int
	Variable *model.Variable

	Variables []model.Variable
	Probes    []string

	Recording    *model.SessionRecording
	RecorderBusy bool

	NodeID int

	VariableTree []sampler.VariableTreeSnapshot // MsgVariableTreeSnapshot payload
}

// Default queue capacities.
const (
	CommandCapacity = 256
	MessageCapacity = 10_000
)

// CommandQueue is the UI-to-pipeline endpoint pair. Sends fail (rather
// than block or drop) on overflow, since this direction is expected to
// stay nearly empty; pathological UI lag is the operator's problem to
// notice via the returned error.
type CommandQueue struct {
	ch chan Command
}

// NewCommandQueue builds a bounded UI-to-pipeline queue at its default
// capacity.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{ch: make(chan Command, CommandCapacity)}
}

// Send enqueues c, returning an error if the queue is full so the UI
// can surface a warning.
func (q *CommandQueue) Send(c Command) error {
	select {
	case q.ch <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// TryRecv drains at most one command, non-blocking.
func (q *CommandQueue) TryRecv() (Command, bool) {
	select {
	case c := <-q.ch:
		return c, true
	default:
		return Command{}, false
	}
}

// DrainAll pulls every currently-queued command without blocking, in
// FIFO order.
func (q *CommandQueue) DrainAll() []Command {
	var out []Command
	for {
		c, ok := q.TryRecv()
		if !ok {
			return out
		}
		out = append(out, c)
	}
}

// MessageQueue is the pipeline-to-UI endpoint pair. On overflow it drops
// the oldest queued message and counts the drop, preserving the most
// recent view for live plotting.
type MessageQueue struct {
	ch      chan Message
	dropped int64
}

// NewMessageQueue builds a bounded pipeline-to-UI queue at its default
// capacity.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{ch: make(chan Message, MessageCapacity)}
}

// Send enqueues m, dropping the oldest queued message first if full.
func (q *MessageQueue) Send(m Message) {
	for {
		select {
		case q.ch <- m:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped++
		default:
			// Raced with a concurrent consumer draining the queue; retry.
		}
	}
}

// TryRecv drains at most one message, non-blocking.
func (q *MessageQueue) TryRecv() (Message, bool) {
	select {
	case m := <-q.ch:
		return m, true
	default:
		return Message{}, false
	}
}

// DrainAll pulls every currently-queued message without blocking, in
// FIFO order, the way the UI thread opportunistically drains each frame.
func (q *MessageQueue) DrainAll() []Message {
	var out []Message
	for {
		m, ok := q.TryRecv()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

// Dropped returns the running count of messages dropped by Send due to a
// full queue, surfaced as CollectionStats.DroppedMessages in the next
// Stats broadcast.
func (q *MessageQueue) Dropped() int64 { return q.dropped }

// ResetDropped zeroes the drop counter, e.g. after folding it into a
// Stats message.
func (q *MessageQueue) ResetDropped() { q.dropped = 0 }

// ErrQueueFull is returned by CommandQueue.Send when the UI-to-pipeline
// queue is saturated, expected only under pathological UI lag.
var ErrQueueFull = errQueueFull{}

type errQueueFull struct{}

func (errQueueFull) Error() string { return "bus: command queue is full" }

// StatsInterval is how often the pipeline emits a Stats message.
const StatsInterval = 500 * time.Millisecond

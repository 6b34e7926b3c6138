// Package probe defines the DebugProbe capability the rest of the
// sampling pipeline consumes. It is a narrow boundary: the low-level
// SWD/JTAG driver internals are modeled only at this interface.
package probe

import (
	"fmt"
	"time"

	"github.com/oscillo/scopewatch/model"
)

// Protocol is the wire protocol negotiated at connect.
type Protocol int

const (
	SWD Protocol = iota
	JTAG
)

// ConnectUnderReset selects the reset strategy applied during connect.
type ConnectUnderReset int

const (
	ResetNone ConnectUnderReset = iota
	ResetSoftware                // SYSRESETREQ
	ResetHardware                // NRST
	ResetCore                    // VECTRESET
)

// AccessMode is the target-access mode the Sampler drives the probe
// under.
type AccessMode int

const (
	AccessBackground AccessMode = iota
	AccessHalted
	AccessHaltedPersistent
)

func (m AccessMode) String() string {
	switch m {
	case AccessBackground:
		return "background"
	case AccessHalted:
		return "halted"
	case AccessHaltedPersistent:
		return "halted-persistent"
	}
	return "unknown"
}

// ParseAccessMode parses the textual mode name carried over the bus
// (Command.AccessMode) back into an AccessMode. An
// unrecognized name falls back to AccessBackground, the least
// disruptive mode, rather than erroring a control path that has no
// good way to report failure back to its caller.
func ParseAccessMode(name string) AccessMode {
	switch name {
	case "halted":
		return AccessHalted
	case "halted-persistent":
		return AccessHaltedPersistent
	default:
		return AccessBackground
	}
}

// ConnectConfig bundles the parameters of a connect() call.
type ConnectConfig struct {
	Selector          string // VID:PID or serial substring; "" = first available
	Target            string
	SpeedKHz          int
	Protocol          Protocol
	ConnectUnderReset ConnectUnderReset
	HaltOnConnect     bool
}

// DefaultConnectConfig returns sensible defaults for target.
func DefaultConnectConfig(target string) ConnectConfig {
	return ConnectConfig{
		Target:            target,
		SpeedKHz:          4000,
		Protocol:          SWD,
		ConnectUnderReset: ResetNone,
		HaltOnConnect:     false,
	}
}

// LatencySample is one entry in the probe's recent-read latency ring.
type LatencySample struct {
	At       time.Time
	Duration time.Duration
}

// Stats is the probe's own running latency histogram and bulk-read
// optimization counters.
type Stats struct {
	RecentReads         []LatencySample // ring of the last 100 reads
	BulkReadsPerformed  int64
	IndividualReadsSaved int64
}

const statsRingSize = 100

// Record appends a read latency sample, keeping only the most recent
// statsRingSize entries.
func (s *Stats) Record(d time.Duration) {
	s.RecentReads = append(s.RecentReads, LatencySample{At: time.Now(), Duration: d})
	if len(s.RecentReads) > statsRingSize {
		s.RecentReads = s.RecentReads[len(s.RecentReads)-statsRingSize:]
	}
}

// MinMaxJitter returns the min/max/jitter (max-min) over the recent
// window, all in microseconds.
func (s *Stats) MinMaxJitter() (minUs, maxUs, jitterUs float64) {
	if len(s.RecentReads) == 0 {
		return 0, 0, 0
	}
	minUs = float64(s.RecentReads[0].Duration.Microseconds())
	maxUs = minUs
	for _, r := range s.RecentReads[1:] {
		us := float64(r.Duration.Microseconds())
		if us < minUs {
			minUs = us
		}
		if us > maxUs {
			maxUs = us
		}
	}
	return minUs, maxUs, maxUs - minUs
}

// AvgUs returns the mean read latency over the recent window.
func (s *Stats) AvgUs() float64 {
	if len(s.RecentReads) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range s.RecentReads {
		total += r.Duration
	}
	return float64(total.Microseconds()) / float64(len(s.RecentReads))
}

// DebugProbe is the narrow capability the core consumes. Every
// operation is fallible with a typed error from scopeerr.
type DebugProbe interface {
	Connect(cfg ConnectConfig) error
	Disconnect() error // idempotent
	IsConnected() bool
	IsHalted() bool

	ReadVariable(v *model.Variable) (float64, error)
	ReadVariables(vs []*model.Variable) ([]VarReadResult, error)
	WriteVariable(v *model.Variable, value float64) error

	ReadMemory(addr uint64, size int) ([]byte, error)
	WriteMemory(addr uint64, data []byte) error

	Halt(timeout time.Duration) error
	Resume() error
	Reset(halt bool) error

	MemoryAccessMode() AccessMode
	SetMemoryAccessMode(mode AccessMode)

	Stats() *Stats
}

// VarReadResult is one element of the batched ReadVariables result: a
// per-variable outcome so that a single failure does not abort the batch.
type VarReadResult struct {
	Value float64
	Err   error
}

// ReadVariablesLoop is the default (non-batched) implementation of
// ReadVariables: it loops over ReadVariable. Probe implementations that
// can issue genuinely bulk reads (e.g. via a ReadPlanner) should override
// this on the hot path instead of relying on the loop.
func ReadVariablesLoop(p DebugProbe, vs []*model.Variable) ([]VarReadResult, error) {
	out := make([]VarReadResult, len(vs))
	for i, v := range vs {
		val, err := p.ReadVariable(v)
		out[i] = VarReadResult{Value: val, Err: err}
	}
	return out, nil
}

// ErrNotConnected is returned by any operation requiring a live
// connection when none exists.
var ErrNotConnected = fmt.Errorf("probe: not connected")

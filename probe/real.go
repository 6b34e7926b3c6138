package probe

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/scopeerr"
)

// Transport is the byte-oriented link to a physical debug probe (a USB
// CDC-ACM serial device, typically). Its internals are a build boundary:
// scopewatch only ever talks a small framed request/response protocol
// over it; this is the seam where a real driver would plug in.
type Transport interface {
	io.ReadWriteCloser
}

// cmd codes for the minimal framed protocol RealProbe speaks over a
// Transport: a one-byte opcode, a uint32 length-prefixed payload, and a
// uint32 length-prefixed reply.
type cmd byte

const (
	cmdConnect cmd = iota + 1
	cmdDisconnect
	cmdReadMemory
	cmdWriteMemory
	cmdHalt
	cmdResume
	cmdReset
)

// RealProbe is the production DebugProbe: it encodes each operation as a
// framed request over a Transport and decodes the framed reply. Batched
// reads of several variables are planned by the caller (the Sampler) via
// a ReadPlanner and issued here as one or more ReadMemory calls.
type RealProbe struct {
	mu sync.Mutex

	transport Transport
	connected bool
	halted    bool
	mode      AccessMode
	stats     Stats
}

// NewRealProbe wraps an already-opened Transport (e.g. a serial port to a
// CMSIS-DAP-style adapter). Connect() still must be called to negotiate
// protocol/speed/reset strategy before any read/write.
func NewRealProbe(t Transport) *RealProbe {
	return &RealProbe{transport: t}
}

func (p *RealProbe) Connect(cfg ConnectConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendFrame(cmdConnect, encodeConnectConfig(cfg)); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "connect to %s", cfg.Target)
	}
	if _, err := p.recvFrame(); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "connect handshake with %s", cfg.Target)
	}
	p.connected = true
	p.halted = cfg.HaltOnConnect
	return nil
}

func (p *RealProbe) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil // idempotent
	}
	// Resume before releasing the probe so we never leave the target
	// frozen in HaltedPersistent mode.
	if p.halted {
		_ = p.sendFrame(cmdResume, nil)
		_, _ = p.recvFrame()
	}
	_ = p.sendFrame(cmdDisconnect, nil)
	_, _ = p.recvFrame()
	p.connected = false
	p.halted = false
	return nil
}

func (p *RealProbe) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealProbe) IsHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

func (p *RealProbe) ReadVariable(v *model.Variable) (float64, error) {
	b, err := p.ReadMemory(v.Address, v.Type.Size())
	if err != nil {
		return 0, err
	}
	val, err := v.Type.Decode(b)
	if err != nil {
		return 0, scopeerr.ForVariable(scopeerr.KindVariable, v.ID, "decode: %v", err)
	}
	return val, nil
}

// ReadVariables is the hot path: callers (the Sampler) are expected to
// have already coalesced addresses via planner.Plan and to call
// ReadMemory per region themselves; this loop is the non-coalesced
// fallback for direct DebugProbe use.
func (p *RealProbe) ReadVariables(vs []*model.Variable) ([]VarReadResult, error) {
	return ReadVariablesLoop(p, vs)
}

func (p *RealProbe) WriteVariable(v *model.Variable, value float64) error {
	if !v.Type.IsWritable() || v.Converter != "" {
		return scopeerr.ForVariable(scopeerr.KindVariable, v.ID, "variable is not writable")
	}
	b, err := v.Type.Encode(value)
	if err != nil {
		return scopeerr.Wrap(scopeerr.KindVariable, err, "encode write for var %d", v.ID)
	}
	return p.WriteMemory(v.Address, b)
}

func (p *RealProbe) ReadMemory(addr uint64, size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, scopeerr.ForAddress(scopeerr.KindProbe, addr, "not connected")
	}
	start := time.Now()
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint64(payload[:8], addr)
	binary.LittleEndian.PutUint32(payload[8:], uint32(size))
	if err := p.sendFrame(cmdReadMemory, payload); err != nil {
		return nil, scopeerr.ForAddress(scopeerr.KindProbe, addr, "send read: %v", err)
	}
	reply, err := p.recvFrame()
	if err != nil {
		return nil, scopeerr.ForAddress(scopeerr.KindProbe, addr, "recv read: %v", err)
	}
	p.stats.Record(time.Since(start))
	if len(reply) != size {
		return nil, scopeerr.ForAddress(scopeerr.KindProbe, addr, "short reply: got %d bytes, want %d", len(reply), size)
	}
	return reply, nil
}

func (p *RealProbe) WriteMemory(addr uint64, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return scopeerr.ForAddress(scopeerr.KindProbe, addr, "not connected")
	}
	payload := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint64(payload[:8], addr)
	copy(payload[8:], data)
	if err := p.sendFrame(cmdWriteMemory, payload); err != nil {
		return scopeerr.ForAddress(scopeerr.KindProbe, addr, "send write: %v", err)
	}
	_, err := p.recvFrame()
	if err != nil {
		return scopeerr.ForAddress(scopeerr.KindProbe, addr, "recv write ack: %v", err)
	}
	return nil
}

func (p *RealProbe) Halt(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := make(chan error, 1)
	go func() {
		if err := p.sendFrame(cmdHalt, nil); err != nil {
			done <- err
			return
		}
		_, err := p.recvFrame()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return scopeerr.Wrap(scopeerr.KindProbe, err, "halt")
		}
		p.halted = true
		return nil
	case <-time.After(timeout):
		return scopeerr.New(scopeerr.KindTimeout, "halt timed out after %s", timeout)
	}
}

func (p *RealProbe) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendFrame(cmdResume, nil); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "resume")
	}
	if _, err := p.recvFrame(); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "resume ack")
	}
	p.halted = false
	return nil
}

func (p *RealProbe) Reset(halt bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	payload := []byte{0}
	if halt {
		payload[0] = 1
	}
	if err := p.sendFrame(cmdReset, payload); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "reset")
	}
	if _, err := p.recvFrame(); err != nil {
		return scopeerr.Wrap(scopeerr.KindProbe, err, "reset ack")
	}
	p.halted = halt
	return nil
}

func (p *RealProbe) MemoryAccessMode() AccessMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *RealProbe) SetMemoryAccessMode(mode AccessMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

func (p *RealProbe) Stats() *Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := p.stats
	cp.RecentReads = append([]LatencySample(nil), p.stats.RecentReads...)
	return &cp
}

func (p *RealProbe) sendFrame(c cmd, payload []byte) error {
	header := make([]byte, 5)
	header[0] = byte(c)
	binary.LittleEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := p.transport.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := p.transport.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

func (p *RealProbe) recvFrame() ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(p.transport, lenBuf); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.transport, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeConnectConfig(cfg ConnectConfig) []byte {
	b := make([]byte, 8+len(cfg.Target))
	b[0] = byte(cfg.Protocol)
	b[1] = byte(cfg.ConnectUnderReset)
	if cfg.HaltOnConnect {
		b[2] = 1
	}
	binary.LittleEndian.PutUint32(b[4:8], uint32(cfg.SpeedKHz))
	copy(b[8:], cfg.Target)
	return b
}

var _ DebugProbe = (*RealProbe)(nil)

// DialWithRetry opens a probe connection with bounded backoff before
// surfacing a ConnectionError.
func DialWithRetry(p DebugProbe, cfg ConnectConfig, attempts int, backoff time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := p.Connect(cfg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i < attempts-1 {
			time.Sleep(backoff)
		}
	}
	return scopeerr.Wrap(scopeerr.KindProbe, lastErr, "connect failed after %d attempts", attempts)
}

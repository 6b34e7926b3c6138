package probe

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/scopeerr"
)

// Pattern is the waveform a MockProbe region generates for a simulated
// variable.
type Pattern int

const (
	PatternConstant Pattern = iota
	PatternSine
	PatternCounter
	PatternRandom
	PatternSawtooth
	PatternSquare
	PatternTriangle
)

// PatternConfig parameterizes one address's simulated signal.
type PatternConfig struct {
	Pattern    Pattern
	Amplitude  float64
	Offset     float64
	PeriodSecs float64 // for Sine/Sawtooth/Square/Triangle
	Constant   float64 // for PatternConstant

	NoiseStdDev float64 // additive Gaussian noise, 0 disables
}

// MockProbe is an in-memory DebugProbe backed by a region map of
// pattern generators, used as the testing substrate for the whole core.
type MockProbe struct {
	mu sync.Mutex

	connected bool
	halted    bool
	mode      AccessMode
	stats     Stats

	start    time.Time
	counters map[uint64]int64
	configs  map[uint64]PatternConfig
	memory   map[uint64][]byte

	// SimulatedReadDelay, if nonzero, is slept in each ReadVariable call
	// made while connected, to exercise latency-dependent code paths
	// deterministically. ReadVariables and ReadMemory do not apply it.
	SimulatedReadDelay time.Duration

	rng *rand.Rand
}

// NewMockProbe builds a MockProbe with a deterministic PRNG seed, so that
// tests driving noisy patterns are reproducible.
func NewMockProbe(seed int64) *MockProbe {
	return &MockProbe{
		counters: make(map[uint64]int64),
		configs:  make(map[uint64]PatternConfig),
		memory:   make(map[uint64][]byte),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// SetPattern registers the generator for a given address.
func (m *MockProbe) SetPattern(addr uint64, cfg PatternConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[addr] = cfg
}

func (m *MockProbe) Connect(cfg ConnectConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.start = time.Now()
	if cfg.HaltOnConnect {
		m.halted = true
	}
	return nil
}

func (m *MockProbe) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.halted = false
	return nil
}

func (m *MockProbe) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockProbe) IsHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

func (m *MockProbe) sample(addr uint64) float64 {
	cfg, ok := m.configs[addr]
	if !ok {
		return 0
	}
	t := time.Since(m.start).Seconds()
	var v float64
	switch cfg.Pattern {
	case PatternConstant:
		v = cfg.Constant
	case PatternSine:
		v = cfg.Offset + cfg.Amplitude*math.Sin(2*math.Pi*t/periodOr1(cfg.PeriodSecs))
	case PatternCounter:
		m.counters[addr]++
		v = cfg.Offset + float64(m.counters[addr])
	case PatternRandom:
		v = cfg.Offset + cfg.Amplitude*(2*m.rng.Float64()-1)
	case PatternSawtooth:
		frac := math.Mod(t, periodOr1(cfg.PeriodSecs)) / periodOr1(cfg.PeriodSecs)
		v = cfg.Offset + cfg.Amplitude*(2*frac-1)
	case PatternSquare:
		frac := math.Mod(t, periodOr1(cfg.PeriodSecs)) / periodOr1(cfg.PeriodSecs)
		if frac < 0.5 {
			v = cfg.Offset + cfg.Amplitude
		} else {
			v = cfg.Offset - cfg.Amplitude
		}
	case PatternTriangle:
		frac := math.Mod(t, periodOr1(cfg.PeriodSecs)) / periodOr1(cfg.PeriodSecs)
		tri := 2 * math.Abs(2*frac-1) - 1
		v = cfg.Offset + cfg.Amplitude*tri
	}
	if cfg.NoiseStdDev > 0 {
		v += m.rng.NormFloat64() * cfg.NoiseStdDev
	}
	return v
}

func periodOr1(p float64) float64 {
	if p <= 0 {
		return 1
	}
	return p
}

func (m *MockProbe) ReadVariable(v *model.Variable) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return 0, scopeerr.Wrap(scopeerr.KindProbe, ErrNotConnected, "read variable %d", v.ID)
	}
	if m.SimulatedReadDelay > 0 {
		time.Sleep(m.SimulatedReadDelay)
	}
	start := time.Now()
	val := m.sample(v.Address)
	m.stats.Record(time.Since(start))
	return val, nil
}

func (m *MockProbe) ReadVariables(vs []*model.Variable) ([]VarReadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, scopeerr.Wrap(scopeerr.KindProbe, ErrNotConnected, "read %d variables", len(vs))
	}
	start := time.Now()
	out := make([]VarReadResult, len(vs))
	for i, v := range vs {
		out[i] = VarReadResult{Value: m.sample(v.Address)}
	}
	m.stats.Record(time.Since(start))
	m.stats.BulkReadsPerformed++
	if len(vs) > 1 {
		m.stats.IndividualReadsSaved += int64(len(vs) - 1)
	}
	return out, nil
}

func (m *MockProbe) WriteVariable(v *model.Variable, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !v.Type.IsWritable() || v.Converter != "" {
		return scopeerr.ForVariable(scopeerr.KindVariable, v.ID, "variable is not writable")
	}
	b, err := v.Type.Encode(value)
	if err != nil {
		return scopeerr.Wrap(scopeerr.KindVariable, err, "encode write for var %d", v.ID)
	}
	m.memory[v.Address] = b
	return nil
}

func (m *MockProbe) ReadMemory(addr uint64, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := time.Now()
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		region, ok := m.memory[addr+uint64(i)]
		if ok && len(region) > 0 {
			out[i] = region[0]
		}
	}
	m.stats.Record(time.Since(start))
	return out, nil
}

func (m *MockProbe) WriteMemory(addr uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.memory[addr+uint64(i)] = []byte{b}
	}
	return nil
}

func (m *MockProbe) Halt(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	return nil
}

func (m *MockProbe) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	return nil
}

func (m *MockProbe) Reset(halt bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[uint64]int64)
	m.halted = halt
	return nil
}

func (m *MockProbe) MemoryAccessMode() AccessMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *MockProbe) SetMemoryAccessMode(mode AccessMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
}

func (m *MockProbe) Stats() *Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.stats
	cp.RecentReads = append([]LatencySample(nil), m.stats.RecentReads...)
	return &cp
}

var _ DebugProbe = (*MockProbe)(nil)

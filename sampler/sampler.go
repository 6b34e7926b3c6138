// Package sampler implements the Sampler/ProbeSource node: it owns the
// DebugProbe connection, batches variable reads through the ReadPlanner,
// resolves two-stage pointer dereferences, and folds every tick's
// outcome into running CollectionStats.
package sampler

import (
	"sort"
	"time"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/planner"
	"github.com/oscillo/scopewatch/probe"
	"github.com/oscillo/scopewatch/scopeerr"
)

// Sampler is owned by exactly one goroutine (the pipeline thread) for
// its hot path (Tick); Connect/Disconnect/AddVariable etc. are only ever
// invoked from that same thread via the command bus, so no locking is
// needed internally.
type Sampler struct {
	probe probe.DebugProbe

	gapThreshold uint64
	mode         probe.AccessMode

	variables map[int]*model.Variable
	order     []int // stable iteration order, insertion order of AddVariable

	collecting bool
	haltedFor  bool // true once a HaltedPersistent halt has been issued

	stats model.CollectionStats
}

// New builds a Sampler around an already-constructed DebugProbe (real or
// mock). The probe is not connected yet; call Connect.
func New(p probe.DebugProbe) *Sampler {
	return &Sampler{
		probe:        p,
		gapThreshold: planner.DefaultGapThreshold,
		variables:    make(map[int]*model.Variable),
	}
}

// SetGapThreshold overrides the planner's coalescing threshold.
func (s *Sampler) SetGapThreshold(bytes uint64) { s.gapThreshold = bytes }

func (s *Sampler) Connect(cfg probe.ConnectConfig) error {
	return s.probe.Connect(cfg)
}

func (s *Sampler) Disconnect() error {
	s.collecting = false
	s.haltedFor = false
	return s.probe.Disconnect()
}

func (s *Sampler) IsConnected() bool { return s.probe.IsConnected() }

// AddVariable registers a variable for sampling, preserving stable
// insertion order in later Tick iteration, so a UI watching snapshots
// sees a deterministic order tick over tick for identical input.
func (s *Sampler) AddVariable(v *model.Variable) {
	if _, exists := s.variables[v.ID]; !exists {
		s.order = append(s.order, v.ID)
	}
	s.variables[v.ID] = v
}

func (s *Sampler) RemoveVariable(id int) {
	if _, ok := s.variables[id]; !ok {
		return
	}
	delete(s.variables, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *Sampler) Variable(id int) (*model.Variable, bool) {
	v, ok := s.variables[id]
	return v, ok
}

// SetMemoryAccessMode switches the Sampler's target-access strategy.
// Switching away from HaltedPersistent resumes the target if it is
// currently held halted.
func (s *Sampler) SetMemoryAccessMode(mode probe.AccessMode) {
	if s.mode == probe.AccessHaltedPersistent && mode != probe.AccessHaltedPersistent && s.haltedFor {
		_ = s.probe.Resume()
		s.haltedFor = false
	}
	s.mode = mode
	s.probe.SetMemoryAccessMode(mode)
}

func (s *Sampler) Start() { s.collecting = true }

// Stop halts collection and, if the target was held under
// HaltedPersistent, resumes it so it doesn't sit frozen indefinitely.
func (s *Sampler) Stop() {
	s.collecting = false
	if s.haltedFor {
		_ = s.probe.Resume()
		s.haltedFor = false
	}
}

func (s *Sampler) IsCollecting() bool { return s.collecting }

// WriteVariable issues a single write through the probe, bypassing
// batching entirely: writes are rare control-plane operations, not
// sampling-hot-path traffic.
func (s *Sampler) WriteVariable(id int, value float64) error {
	v, ok := s.variables[id]
	if !ok {
		return scopeerr.ForVariable(scopeerr.KindVariable, id, "unknown variable")
	}
	return s.probe.WriteVariable(v, value)
}

// Tick performs one sampling pass over every enabled variable: batched
// reads of top-level/pointer variables, pointer classification, a
// second batched pass for variables that depend on a pointer's cached
// address, and CollectionStats accounting.
func (s *Sampler) Tick(nowSecs float64) (*model.DataPacket, error) {
	if !s.collecting {
		return nil, nil
	}
	if !s.probe.IsConnected() {
		return nil, scopeerr.Wrap(scopeerr.KindProbe, probe.ErrNotConnected, "tick")
	}

	if s.mode == probe.AccessHalted {
		if err := s.probe.Halt(2 * time.Second); err != nil {
			return nil, err
		}
		defer func() { _ = s.probe.Resume() }()
	} else if s.mode == probe.AccessHaltedPersistent && !s.haltedFor {
		if err := s.probe.Halt(2 * time.Second); err != nil {
			return nil, err
		}
		s.haltedFor = true
	}

	packet := &model.DataPacket{Timestamp: time.Duration(nowSecs * float64(time.Second))}

	stage1, stage2 := s.partitionStages()

	if err := s.readStage(packet, stage1); err != nil {
		return nil, err
	}
	// Stage 2 depends on stage 1's freshly-cached pointer addresses.
	if err := s.readStage(packet, stage2); err != nil {
		return nil, err
	}

	s.recordPacketStats()
	return packet, nil
}

// partitionStages splits enabled variables into two dereference passes:
// variables with no pointer parent (read at their own address) first,
// then variables whose effective address depends on a parent pointer
// read this same tick.
func (s *Sampler) partitionStages() (stage1, stage2 []*model.Variable) {
	for _, id := range s.order {
		v := s.variables[id]
		if !v.Enabled {
			continue
		}
		if v.Pointer != nil && v.Pointer.PointerParentID >= 0 {
			stage2 = append(stage2, v)
		} else {
			stage1 = append(stage1, v)
		}
	}
	return stage1, stage2
}

func (s *Sampler) readStage(packet *model.DataPacket, candidates []*model.Variable) error {
	if len(candidates) == 0 {
		return nil
	}

	vars := make([]*model.Variable, 0, len(candidates))
	items := make([]planner.Item, 0, len(candidates))
	for _, v := range candidates {
		addr := v.Address
		if v.Pointer != nil && v.Pointer.PointerParentID >= 0 {
			parent, ok := s.variables[v.Pointer.PointerParentID]
			if !ok || parent.Pointer == nil || parent.Pointer.State != model.PointerValid {
				// Parent pointer unresolved this tick: emit no sample and
				// leave it to the next tick rather than crash.
				packet.Events = append(packet.Events, model.PipelineEvent{
					Kind: model.EventVariableError, VarID: v.ID, NodeID: -1,
					Message: "pointer parent unresolved this tick",
				})
				continue
			}
			addr = v.EffectiveAddress(parent.Pointer.CachedAddress)
		}
		items = append(items, planner.Item{Address: addr, Size: v.Type.Size(), Index: len(vars)})
		vars = append(vars, v)
	}
	if len(items) == 0 {
		return nil
	}

	regions := planner.Plan(items, s.gapThreshold)
	byRegion := make(map[int][]byte, len(regions))
	regionOf := make([]int, len(items))
	for ri, r := range regions {
		b, err := s.probe.ReadMemory(r.Address, r.Size)
		s.stats.TotalBytesRead += int64(len(b))
		if err != nil {
			s.stats.FailedReads += int64(len(r.MemberIndices))
			packet.Events = append(packet.Events, model.PipelineEvent{
				Kind: model.EventConnectionError, VarID: -1, NodeID: -1,
				Message: err.Error(),
			})
			continue
		}
		byRegion[ri] = b
		for _, idx := range r.MemberIndices {
			regionOf[idx] = ri
		}
	}
	s.stats.BulkReadsPerformed++
	if _, saved := planner.Savings(len(items), len(regions)); saved > 0 {
		s.stats.IndividualReadsSaved += int64(saved)
	}

	for i, v := range vars {
		region, haveRegion := byRegion[regionOf[i]]
		if !haveRegion {
			continue
		}
		item := items[i]
		b, ok := planner.ExtractValue(item, regions[regionOf[i]], region)
		if !ok {
			s.stats.FailedReads++
			continue
		}
		raw, err := v.Type.Decode(b)
		if err != nil {
			s.stats.FailedReads++
			packet.Events = append(packet.Events, model.PipelineEvent{
				Kind: model.EventVariableError, VarID: v.ID, NodeID: -1, Message: err.Error(),
			})
			continue
		}
		s.stats.SuccessfulReads++
		packet.Samples = append(packet.Samples, model.Sample{VarID: v.ID, Raw: raw, Converted: raw})

		if v.Pointer != nil && v.Pointer.PointerParentID < 0 {
			addr := uint64(int64(raw))
			v.Pointer.CachedAddress = addr
			v.Pointer.State = model.ClassifyPointer(addr, v.Type.Size())
		}
	}
	return nil
}

func (s *Sampler) recordPacketStats() {
	ps := s.probe.Stats()
	minUs, maxUs, jitterUs := ps.MinMaxJitter()
	s.stats.AvgReadTimeUs = ps.AvgUs()
	s.stats.MinLatencyUs = minUs
	s.stats.MaxLatencyUs = maxUs
	s.stats.JitterUs = jitterUs
	if s.stats.AvgReadTimeUs > 0 {
		s.stats.EffectiveSampleRateHz = 1e6 / s.stats.AvgReadTimeUs
	}
	s.stats.MemoryAccessMode = s.mode.String()
}

// Stats returns a copy of the running collection statistics, broadcast
// by the pipeline every 500ms.
func (s *Sampler) Stats() model.CollectionStats { return s.stats }

// ResetStats zeroes the accumulator, e.g. on ClearData.
func (s *Sampler) ResetStats() { s.stats = model.CollectionStats{} }

// Variables returns the currently-registered variables in stable order.
func (s *Sampler) Variables() []*model.Variable {
	out := make([]*model.Variable, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.variables[id])
	}
	return out
}

// SortedIDs returns the registered variable ids in ascending order, used
// by callers that need a deterministic id listing independent of
// insertion order (e.g. RequestVariableTree).
func (s *Sampler) SortedIDs() []int {
	ids := make([]int, 0, len(s.variables))
	for id := range s.variables {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

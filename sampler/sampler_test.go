package sampler

import (
	"testing"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/probe"
)

func connectedMock(t *testing.T) *probe.MockProbe {
	t.Helper()
	m := probe.NewMockProbe(1)
	if err := m.Connect(probe.DefaultConnectConfig("test")); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return m
}

func TestTickReturnsNilWhenNotCollecting(t *testing.T) {
	s := New(connectedMock(t))
	s.AddVariable(&model.Variable{ID: 1, Address: 0x2000, Type: model.U32, Enabled: true})
	packet, err := s.Tick(0)
	if err != nil || packet != nil {
		t.Fatalf("Tick() = %v, %v, want nil, nil before Start", packet, err)
	}
}

func TestTickReadsEnabledVariables(t *testing.T) {
	m := connectedMock(t)
	m.SetPattern(0x2000, probe.PatternConfig{Pattern: probe.PatternConstant, Constant: 42})
	m.WriteMemory(0x2000, mustEncode(t, model.U32, 42))

	s := New(m)
	s.AddVariable(&model.Variable{ID: 1, Address: 0x2000, Type: model.U32, Enabled: true})
	s.AddVariable(&model.Variable{ID: 2, Address: 0x3000, Type: model.U32, Enabled: false})
	s.Start()

	packet, err := s.Tick(1.0)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(packet.Samples) != 1 {
		t.Fatalf("got %d samples, want 1 (disabled var excluded)", len(packet.Samples))
	}
	if packet.Samples[0].VarID != 1 || packet.Samples[0].Raw != 42 {
		t.Errorf("sample = %+v, want {VarID:1 Raw:42}", packet.Samples[0])
	}
}

func TestTickFailsWhenDisconnected(t *testing.T) {
	m := probe.NewMockProbe(1)
	s := New(m)
	s.AddVariable(&model.Variable{ID: 1, Address: 0x2000, Type: model.U32, Enabled: true})
	s.Start()
	if _, err := s.Tick(0); err == nil {
		t.Error("expected error ticking a disconnected sampler")
	}
}

func TestPointerTwoStageRead(t *testing.T) {
	m := connectedMock(t)
	m.WriteMemory(0x1000, mustEncode(t, model.U32, 0x2000_1000))
	m.WriteMemory(0x2000_1000+8, mustEncode(t, model.I32, -7))

	s := New(m)
	parent := &model.Variable{
		ID: 1, Address: 0x1000, Type: model.U32, Enabled: true,
		Pointer: &model.PointerMeta{PointerParentID: -1},
	}
	child := &model.Variable{
		ID: 2, Type: model.I32, Enabled: true,
		Pointer: &model.PointerMeta{PointerParentID: 1, OffsetFromPointer: 8},
	}
	s.AddVariable(parent)
	s.AddVariable(child)
	s.Start()

	packet, err := s.Tick(0)
	if err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// Parent's pointer state is classified but the child read depended on
	// a CachedAddress that didn't exist until this same tick's stage 1, so
	// it resolves in this very tick since state1 already classified it.
	if parent.Pointer.State != model.PointerValid {
		t.Fatalf("parent pointer state = %v, want valid", parent.Pointer.State)
	}
	var sawChild, sawParent bool
	for _, samp := range packet.Samples {
		if samp.VarID == 1 {
			sawParent = true
		}
		if samp.VarID == 2 {
			sawChild = true
			if samp.Raw != -7 {
				t.Errorf("child raw = %v, want -7", samp.Raw)
			}
		}
	}
	if !sawParent || !sawChild {
		t.Fatalf("packet samples = %+v, want both parent and child", packet.Samples)
	}
}

func TestWriteVariableRejectsRawType(t *testing.T) {
	m := connectedMock(t)
	s := New(m)
	v := &model.Variable{ID: 1, Address: 0x1000, Type: model.Raw(4), Enabled: true}
	s.AddVariable(v)
	if err := s.WriteVariable(1, 1); err == nil {
		t.Error("expected error writing a raw() variable")
	}
}

func TestSetMemoryAccessModeResumesOnSwitchAway(t *testing.T) {
	m := connectedMock(t)
	s := New(m)
	s.SetMemoryAccessMode(probe.AccessHaltedPersistent)
	s.AddVariable(&model.Variable{ID: 1, Address: 0x1000, Type: model.U32, Enabled: true})
	s.Start()
	if _, err := s.Tick(0); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !m.IsHalted() {
		t.Fatalf("expected target halted under HaltedPersistent")
	}
	s.SetMemoryAccessMode(probe.AccessBackground)
	if m.IsHalted() {
		t.Errorf("expected target resumed after switching away from HaltedPersistent")
	}
}

func mustEncode(t *testing.T, typ model.VariableType, v float64) []byte {
	t.Helper()
	b, err := typ.Encode(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

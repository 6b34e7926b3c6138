package transform

import (
	"testing"

	"github.com/oscillo/scopewatch/model"
)

func newVar(id int, converter string) *model.Variable {
	return &model.Variable{ID: id, Converter: converter, Type: model.F32}
}

func TestApplyPassThroughWithoutConverter(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	packet := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 3.5}}}
	vars := map[int]*model.Variable{1: newVar(1, "")}
	stage.Apply(packet, vars, 1.0)
	if packet.Samples[0].Converted != 3.5 {
		t.Errorf("Converted = %v, want 3.5", packet.Samples[0].Converted)
	}
}

func TestApplyLinearConverter(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	packet := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 10}}}
	vars := map[int]*model.Variable{1: newVar(1, "value * 2 + 1")}
	stage.Apply(packet, vars, 1.0)
	if packet.Samples[0].Converted != 21 {
		t.Errorf("Converted = %v, want 21", packet.Samples[0].Converted)
	}
}

func TestHasPrevFalseOnFirstSample(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	packet := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 10}}}
	vars := map[int]*model.Variable{1: newVar(1, "has_prev() ? 1.0 : 0.0")}
	stage.Apply(packet, vars, 1.0)
	if packet.Samples[0].Converted != 0 {
		t.Errorf("Converted = %v, want 0 (no prior history)", packet.Samples[0].Converted)
	}
}

func TestDerivativeUsesPrevAndDt(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	vars := map[int]*model.Variable{1: newVar(1, "derivative(value)")}

	p1 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 0}}}
	stage.Apply(p1, vars, 0.0)
	if p1.Samples[0].Converted != 0 {
		t.Errorf("first derivative = %v, want 0", p1.Samples[0].Converted)
	}

	p2 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 10}}}
	stage.Apply(p2, vars, 2.0)
	if got, want := p2.Samples[0].Converted, 5.0; got != want {
		t.Errorf("derivative = %v, want %v", got, want)
	}
}

func TestClearDataResetsHistory(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	vars := map[int]*model.Variable{1: newVar(1, "has_prev() ? 1.0 : 0.0")}
	p1 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	stage.Apply(p1, vars, 0.0)
	p2 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	stage.Apply(p2, vars, 1.0)
	if p2.Samples[0].Converted != 1 {
		t.Fatalf("expected has_prev true before clear")
	}

	stage.ClearData()
	p3 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	stage.Apply(p3, vars, 2.0)
	if p3.Samples[0].Converted != 0 {
		t.Errorf("expected has_prev false right after ClearData, got %v", p3.Samples[0].Converted)
	}
}

func TestApplyRecordsEventOnScriptError(t *testing.T) {
	stage := NewStage(nil)
	stage.Start()
	packet := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	vars := map[int]*model.Variable{1: newVar(1, "undefined_fn(value)")}
	stage.Apply(packet, vars, 0.0)
	if len(packet.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(packet.Events))
	}
	if packet.Events[0].Kind != model.EventVariableError {
		t.Errorf("event kind = %v, want EventVariableError", packet.Events[0].Kind)
	}
	if packet.Samples[0].Converted != packet.Samples[0].Raw {
		t.Errorf("expected raw pass-through on script error")
	}
}

func TestCacheReusesCompiledProgram(t *testing.T) {
	cache := NewCache()
	s1 := NewStage(cache)
	s2 := NewStage(cache)
	vars := map[int]*model.Variable{1: newVar(1, "value + 1")}

	s1.Start()
	s2.Start()
	p1 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	s1.Apply(p1, vars, 0)
	p2 := &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1}}}
	s2.Apply(p2, vars, 0)

	if len(cache.scripts) != 1 {
		t.Errorf("cache has %d entries, want 1 shared entry", len(cache.scripts))
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/recordfmt"
)

func TestProjectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "project.json")

	proj := DefaultProject("bench")
	proj.Config.Probe.ProbeSelector = "mock"
	proj.Config.Probe.TargetChip = "stm32f4"
	proj.Config.Variables = []model.Variable{
		{
			ID:          1,
			Name:        "counter",
			Unit:        "ticks",
			Address:     0x2000_0000,
			Type:        model.U32,
			Converter:   "value * 2",
			Enabled:     true,
			ShowInGraph: true,
			Color:       model.RGBA{R: 10, G: 20, B: 30, A: 255},
			PlotStyle:   model.PlotStep,
			YAxis:       1,
			PollRateHz:  50,
			ParentID:    -1,
		},
		{
			ID:       2,
			Name:     "target_ptr",
			Address:  0x2000_0010,
			Type:     model.I64,
			ParentID: -1,
			Pointer: &model.PointerMeta{
				PointerParentID:   -1,
				OffsetFromPointer: 4,
			},
		},
	}
	proj.Persistence = Persistence{
		Enabled: true,
		FilePath: filepath.Join(dir, "log.csv"),
		Format:   recordfmt.FormatCSV,
	}

	if err := Save(path, proj); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Name != proj.Name {
		t.Errorf("Name = %q, want %q", loaded.Name, proj.Name)
	}
	if loaded.Config.Probe.ProbeSelector != "mock" || loaded.Config.Probe.TargetChip != "stm32f4" {
		t.Errorf("probe config did not round-trip: %+v", loaded.Config.Probe)
	}
	if len(loaded.Config.Variables) != 2 {
		t.Fatalf("want 2 variables, have %d", len(loaded.Config.Variables))
	}

	v0 := loaded.Config.Variables[0]
	if v0.ID != 1 || v0.Address != 0x2000_0000 {
		t.Errorf("id/address did not round-trip: %+v", v0)
	}
	if v0.Type != model.U32 {
		t.Errorf("Type = %v, want u32", v0.Type)
	}
	if v0.Converter != "value * 2" {
		t.Errorf("Converter = %q, want %q", v0.Converter, "value * 2")
	}
	if v0.Color != (model.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("Color did not round-trip: %+v", v0.Color)
	}
	if v0.PollRateHz != 50 {
		t.Errorf("PollRateHz = %v, want 50", v0.PollRateHz)
	}
	if v0.PlotStyle != model.PlotStep || v0.YAxis != 1 {
		t.Errorf("plot_style/y_axis did not round-trip: %+v", v0)
	}
	if !v0.ShowInGraph {
		t.Errorf("ShowInGraph did not round-trip")
	}

	v1 := loaded.Config.Variables[1]
	if v1.Type != model.I64 {
		t.Errorf("Type = %v, want i64", v1.Type)
	}
	if v1.Pointer == nil || v1.Pointer.OffsetFromPointer != 4 {
		t.Errorf("pointer metadata did not round-trip: %+v", v1.Pointer)
	}

	if !loaded.Persistence.Enabled || loaded.Persistence.Format != recordfmt.FormatCSV {
		t.Errorf("persistence did not round-trip: %+v", loaded.Persistence)
	}

	// defaults still apply to fields the project omitted.
	if loaded.Config.Collection.PollRateHz != DefaultPollRateHz {
		t.Errorf("collection.poll_rate_hz = %v, want default %v", loaded.Config.Collection.PollRateHz, DefaultPollRateHz)
	}
}

func TestLoadRejectsUnknownVariableType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	const body = `{"version":1,"name":"bad","config":{"variables":[{"id":1,"type":"not_a_type"}]}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("want error decoding an unrecognized variable type, got nil")
	}
}

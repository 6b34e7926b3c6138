package tsstore

import (
	"math"
	"testing"
	"time"

	"github.com/oscillo/scopewatch/model"
)

func TestStatisticsOverSimpleRun(t *testing.T) {
	vd := newVariableData()
	for i := 1; i <= 100; i++ {
		vd.Push(model.DataPoint{Timestamp: time.Duration(i) * time.Millisecond, Converted: float64(i)})
	}
	min, max, mean := vd.Statistics()
	if min != 1 || max != 100 || mean != 50.5 {
		t.Errorf("stats = (%v,%v,%v), want (1,100,50.5)", min, max, mean)
	}
}

func TestRingBufferEvictsAndRecomputesExactly(t *testing.T) {
	vd := newVariableData()
	total := model.MaxDataPoints + 100
	for i := 1; i <= total; i++ {
		vd.Push(model.DataPoint{Timestamp: time.Duration(i) * time.Millisecond, Converted: float64(i)})
	}
	if vd.Len() != model.MaxDataPoints {
		t.Fatalf("Len() = %d, want %d", vd.Len(), model.MaxDataPoints)
	}
	vd.RecomputeExact()
	min, max, _ := vd.Statistics()
	wantMin := float64(total - model.MaxDataPoints + 1)
	wantMax := float64(total)
	if min != wantMin || max != wantMax {
		t.Errorf("after recompute: (min,max) = (%v,%v), want (%v,%v)", min, max, wantMin, wantMax)
	}
}

func TestIngestInsertsGapOnResume(t *testing.T) {
	s := New()
	s.SetCollecting(true)
	s.Ingest(&model.DataPacket{Timestamp: time.Second, Samples: []model.Sample{{VarID: 1, Raw: 1, Converted: 1}}})
	s.SetCollecting(false)
	s.SetCollecting(true)
	s.Ingest(&model.DataPacket{Timestamp: 2 * time.Second, Samples: []model.Sample{{VarID: 1, Raw: 2, Converted: 2}}})

	vd := s.Variable(1)
	points := vd.ordered()
	if len(points) != 3 {
		t.Fatalf("got %d points, want 3 (value, gap, value)", len(points))
	}
	if !points[1].IsGap() {
		t.Errorf("expected middle point to be a gap marker, got %+v", points[1])
	}
}

func TestDecimateKeepsFirstAndLast(t *testing.T) {
	vd := newVariableData()
	n := MaxRenderPoints * 3
	for i := 0; i < n; i++ {
		vd.Push(model.DataPoint{Timestamp: time.Duration(i) * time.Millisecond, Converted: float64(i)})
	}
	out := vd.Decimate()
	if len(out) > MaxRenderPoints+2 {
		t.Fatalf("decimated length %d exceeds MaxRenderPoints+2", len(out))
	}
	if out[0].Value != 0 {
		t.Errorf("first decimated value = %v, want 0", out[0].Value)
	}
	if out[len(out)-1].Value != float64(n-1) {
		t.Errorf("last decimated value = %v, want %v", out[len(out)-1].Value, n-1)
	}
}

func TestDecimatePassesThroughUnderLimit(t *testing.T) {
	vd := newVariableData()
	for i := 0; i < 10; i++ {
		vd.Push(model.DataPoint{Timestamp: time.Duration(i) * time.Millisecond, Converted: float64(i)})
	}
	out := vd.Decimate()
	if len(out) != 10 {
		t.Errorf("got %d points, want all 10 passed through", len(out))
	}
}

func TestGapMarkerIsNaN(t *testing.T) {
	g := model.GapMarker(time.Second)
	if !g.IsGap() {
		t.Error("GapMarker should report IsGap() true")
	}
	if !math.IsNaN(g.Raw) || !math.IsNaN(g.Converted) {
		t.Error("GapMarker fields should be NaN")
	}
}

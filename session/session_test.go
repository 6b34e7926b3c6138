package session

import (
	"testing"
	"time"

	"github.com/oscillo/scopewatch/model"
)

func TestRecorderSkipsEmptyFrames(t *testing.T) {
	r := NewRecorder()
	r.Arm(model.SessionMetadata{Name: "s"}, 0)
	r.OnTick(0, &model.DataPacket{})
	if r.FrameCount() != 0 {
		t.Errorf("expected no frame recorded for an empty packet, got %d", r.FrameCount())
	}
}

func TestRecorderHonorsSampleInterval(t *testing.T) {
	r := NewRecorder()
	r.Arm(model.SessionMetadata{Name: "s"}, 0)
	r.SetSampleInterval(1, 100*time.Millisecond)

	r.OnTick(0, &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1, Converted: 1}}})
	r.OnTick(10*time.Millisecond, &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 2, Converted: 2}}})
	r.OnTick(150*time.Millisecond, &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 3, Converted: 3}}})

	if got := r.FrameCount(); got != 2 {
		t.Fatalf("got %d frames, want 2 (cadence skips the 10ms tick)", got)
	}
}

func TestRecorderStopsAcceptingAtMaxFrames(t *testing.T) {
	r := NewRecorder()
	r.Arm(model.SessionMetadata{Name: "s"}, 2)
	for i := 0; i < 5; i++ {
		r.OnTick(time.Duration(i)*time.Millisecond, &model.DataPacket{
			Samples: []model.Sample{{VarID: 1, Raw: float64(i), Converted: float64(i)}},
		})
	}
	if r.FrameCount() != 2 {
		t.Fatalf("got %d frames, want exactly max_frames=2", r.FrameCount())
	}
	if r.State() != RecorderRecording {
		t.Errorf("state = %v, want still Recording until explicit Stop", r.State())
	}
	if !r.HitMaxFrames() {
		t.Errorf("expected HitMaxFrames() true")
	}
}

func TestRecorderStopFinalizesAndCompletes(t *testing.T) {
	r := NewRecorder()
	r.Arm(model.SessionMetadata{Name: "s"}, 0)
	r.OnTick(0, &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 1, Converted: 1}}})
	r.OnTick(50*time.Millisecond, &model.DataPacket{Samples: []model.Sample{{VarID: 1, Raw: 2, Converted: 2}}})
	r.Stop()
	if r.State() != RecorderStopped {
		t.Fatalf("state = %v, want Stopped", r.State())
	}
	rec, ok := r.TakeCompleted()
	if !ok {
		t.Fatal("expected a completed recording")
	}
	if rec.Metadata.Duration != 50*time.Millisecond {
		t.Errorf("Duration = %v, want 50ms", rec.Metadata.Duration)
	}
	if r.State() != RecorderIdle {
		t.Errorf("state after TakeCompleted = %v, want Idle", r.State())
	}
}

func tenFrameRecording() *model.SessionRecording {
	frames := make([]model.RecordedFrame, 10)
	for i := range frames {
		frames[i] = model.RecordedFrame{
			Timestamp: time.Duration(i) * 100 * time.Millisecond,
			Values:    map[int]model.RawConverted{1: {Raw: float64(i), Converted: float64(i)}},
		}
	}
	rec := &model.SessionRecording{Frames: frames}
	rec.FinalizeDuration()
	return rec
}

func TestPlayerSeekLocatesNearestFrame(t *testing.T) {
	p := NewPlayer(func() time.Time { return time.Unix(0, 0) })
	p.Load(tenFrameRecording())
	p.Seek(500 * time.Millisecond)
	if p.CurrentFrame() != 5 {
		t.Errorf("CurrentFrame() = %d, want 5", p.CurrentFrame())
	}
}

func TestPlayerPlayEmitsFramesOverWallTime(t *testing.T) {
	now := time.Unix(100, 0)
	p := NewPlayer(func() time.Time { return now })
	p.Load(tenFrameRecording())
	p.Seek(500 * time.Millisecond)
	p.SetSpeed(1.0)
	p.Play()

	now = now.Add(100 * time.Millisecond)
	out := p.Update()

	pts, ok := out[1]
	if !ok {
		t.Fatalf("expected emitted points for variable 1, got %+v", out)
	}
	if len(pts) != 2 {
		t.Fatalf("got %d points, want frames 5 and 6 (2 points)", len(pts))
	}
	if pts[0].Converted != 5 || pts[1].Converted != 6 {
		t.Errorf("emitted values = %v, %v, want 5, 6", pts[0].Converted, pts[1].Converted)
	}
}

func TestPlayerSpeedClamped(t *testing.T) {
	p := NewPlayer(nil)
	p.SetSpeed(100)
	if p.speed != MaxSpeed {
		t.Errorf("speed = %v, want clamped to %v", p.speed, MaxSpeed)
	}
	p.SetSpeed(-5)
	if p.speed != MinSpeed {
		t.Errorf("speed = %v, want clamped to %v", p.speed, MinSpeed)
	}
}

func TestPlayerStopsAtEndWithoutLoop(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPlayer(func() time.Time { return now })
	p.Load(tenFrameRecording())
	p.Play()
	now = now.Add(10 * time.Second)
	p.Update()
	if p.State() != PlayerStopped {
		t.Errorf("state = %v, want Stopped after running past duration", p.State())
	}
}

func TestPlayerLoopsWhenEnabled(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPlayer(func() time.Time { return now })
	p.Load(tenFrameRecording())
	p.SetLoop(true)
	p.Play()
	now = now.Add(10 * time.Second)
	p.Update()
	if p.State() != PlayerPlaying {
		t.Errorf("state = %v, want still Playing when looped", p.State())
	}
}

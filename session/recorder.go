// Package session implements the Recorder/Player subsystem: the
// pipeline-side sink that captures a SessionRecording at a per-variable
// cadence, and the UI-side player that replays it.
package session

import (
	"time"

	"github.com/oscillo/scopewatch/model"
)

// RecorderState is the Recorder's lifecycle state: Idle -> Recording ->
// Stopped -> Idle.
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderStopped
)

// Recorder is a pipeline-thread sink: on each tick it samples the
// current packet at a per-variable cadence and appends non-empty frames.
type Recorder struct {
	state RecorderState

	metadata  model.SessionMetadata
	frames    []model.RecordedFrame
	maxFrames int // 0 means unbounded

	sampleInterval   map[int]time.Duration
	lastRecorded     map[int]time.Duration

	completed *model.SessionRecording
}

// NewRecorder builds an idle Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		sampleInterval: make(map[int]time.Duration),
		lastRecorded:   make(map[int]time.Duration),
	}
}

// SetSampleInterval configures the minimum spacing between recorded
// samples for one variable; variables with no configured interval are
// recorded on every tick in which they appear.
func (r *Recorder) SetSampleInterval(varID int, interval time.Duration) {
	r.sampleInterval[varID] = interval
}

// Arm captures metadata and transitions Idle/Stopped -> Recording,
// resetting frame counters.
func (r *Recorder) Arm(metadata model.SessionMetadata, maxFrames int) {
	r.state = RecorderRecording
	r.metadata = metadata
	r.frames = nil
	r.maxFrames = maxFrames
	r.lastRecorded = make(map[int]time.Duration)
	r.completed = nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() RecorderState { return r.state }

// OnTick samples packet at now, appending a new frame iff at least one
// variable passed its sample_interval cadence. Once
// maxFrames is reached, ticks are silently ignored; the state stays
// Recording until Stop is called explicitly.
func (r *Recorder) OnTick(now time.Duration, packet *model.DataPacket) {
	if r.state != RecorderRecording {
		return
	}
	if r.maxFrames > 0 && len(r.frames) >= r.maxFrames {
		return
	}

	frame := model.RecordedFrame{Timestamp: now, Values: make(map[int]model.RawConverted)}
	for _, samp := range packet.Samples {
		last, seen := r.lastRecorded[samp.VarID]
		interval := r.sampleInterval[samp.VarID]
		if seen && now-last < interval {
			continue
		}
		frame.Values[samp.VarID] = model.RawConverted{Raw: samp.Raw, Converted: samp.Converted}
		r.lastRecorded[samp.VarID] = now
	}
	if len(frame.Values) > 0 {
		r.frames = append(r.frames, frame)
	}
}

// Stop finalizes metadata and transitions Recording -> Stopped.
func (r *Recorder) Stop() {
	if r.state != RecorderRecording {
		return
	}
	r.state = RecorderStopped
	rec := &model.SessionRecording{Metadata: r.metadata, Frames: r.frames}
	rec.FinalizeDuration()
	r.completed = rec
}

// TakeCompleted returns and clears the finished recording, if any,
// transitioning Stopped -> Idle, so it can be emitted to the UI as
// RecordingComplete.
func (r *Recorder) TakeCompleted() (*model.SessionRecording, bool) {
	if r.completed == nil {
		return nil, false
	}
	rec := r.completed
	r.completed = nil
	r.state = RecorderIdle
	return rec, true
}

// FrameCount reports how many frames have been captured so far.
func (r *Recorder) FrameCount() int { return len(r.frames) }

// HitMaxFrames reports whether the configured frame cap has been
// reached, used by the pipeline to surface a "recording stopped
// (max_frames)" status.
func (r *Recorder) HitMaxFrames() bool {
	return r.maxFrames > 0 && len(r.frames) >= r.maxFrames
}

package session

import (
	"sort"
	"time"

	"github.com/oscillo/scopewatch/model"
)

// PlayerState is the Player's lifecycle state: Idle, Stopped, Playing,
// and Paused, transitioning Idle -> Stopped -> Playing <-> Paused ->
// Stopped.
type PlayerState int

const (
	PlayerIdle PlayerState = iota
	PlayerStopped
	PlayerPlaying
	PlayerPaused
)

// MinSpeed and MaxSpeed clamp playback speed.
const (
	MinSpeed = 0.1
	MaxSpeed = 10.0
)

// Player replays a SessionRecording. It is driven by wall clock reads
// supplied by the caller (nowFn), so it can be tested deterministically.
type Player struct {
	state PlayerState

	recording *model.SessionRecording

	playbackOffset time.Duration
	playbackStart  time.Time
	speed          float64
	loop           bool

	currentFrame int // index into recording.Frames
	lastEmitted  int // index of the last frame handed to the caller, -1 if none

	lastKnown map[int]model.RawConverted

	nowFn func() time.Time
}

// NewPlayer builds an idle Player. nowFn defaults to time.Now; pass a
// fake clock in tests.
func NewPlayer(nowFn func() time.Time) *Player {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Player{speed: 1.0, lastEmitted: -1, nowFn: nowFn, lastKnown: make(map[int]model.RawConverted)}
}

// Load installs a recording and transitions Idle -> Stopped.
func (p *Player) Load(rec *model.SessionRecording) {
	p.recording = rec
	p.state = PlayerStopped
	p.playbackOffset = 0
	p.currentFrame = 0
	p.lastEmitted = -1
	p.lastKnown = make(map[int]model.RawConverted)
}

func (p *Player) State() PlayerState { return p.state }

// Duration returns the loaded recording's total duration, or 0 if none
// is loaded.
func (p *Player) Duration() time.Duration {
	if p.recording == nil {
		return 0
	}
	return p.recording.Metadata.Duration
}

// SetSpeed clamps and stores the playback speed to [0.1, 10.0].
func (p *Player) SetSpeed(speed float64) {
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	p.speed = speed
}

// SetLoop toggles whether playback wraps to zero at the end instead of
// stopping.
func (p *Player) SetLoop(loop bool) { p.loop = loop }

// Play resumes or starts playback at the current timeline position.
func (p *Player) Play() {
	if p.state != PlayerStopped && p.state != PlayerPaused {
		return
	}
	p.playbackStart = p.nowFn()
	p.state = PlayerPlaying
}

// Pause freezes the timeline at its current position, folding the
// elapsed wall time into playbackOffset.
func (p *Player) Pause() {
	if p.state != PlayerPlaying {
		return
	}
	p.playbackOffset = p.CurrentTime()
	p.state = PlayerPaused
}

// CurrentTime computes the timeline position: playback_offset +
// wall_elapsed x playback_speed while playing, or the frozen offset
// otherwise.
func (p *Player) CurrentTime() time.Duration {
	if p.state != PlayerPlaying {
		return p.playbackOffset
	}
	elapsed := p.nowFn().Sub(p.playbackStart)
	return p.playbackOffset + time.Duration(float64(elapsed)*p.speed)
}

// Seek clamps t to [0, duration], updates playback_offset, and relocates
// current_frame via binary search on frame timestamps.
func (p *Player) Seek(t time.Duration) {
	if p.recording == nil {
		return
	}
	if t < 0 {
		t = 0
	}
	if d := p.Duration(); t > d {
		t = d
	}
	p.playbackOffset = t
	p.playbackStart = p.nowFn()
	p.currentFrame = p.frameIndexAt(t)
	p.lastEmitted = p.currentFrame - 1
}

func (p *Player) frameIndexAt(t time.Duration) int {
	frames := p.recording.Frames
	idx := sort.Search(len(frames), func(i int) bool { return frames[i].Timestamp >= t })
	if idx < len(frames) && frames[idx].Timestamp == t {
		return idx
	}
	if idx > 0 {
		return idx - 1
	}
	return 0
}

// StepForward advances current_frame by one, clamping at the last frame.
func (p *Player) StepForward() {
	if p.recording == nil || p.currentFrame >= len(p.recording.Frames)-1 {
		return
	}
	p.currentFrame++
	p.playbackOffset = p.recording.Frames[p.currentFrame].Timestamp
}

// StepBack retreats current_frame by one, clamping at the first frame.
func (p *Player) StepBack() {
	if p.recording == nil || p.currentFrame <= 0 {
		return
	}
	p.currentFrame--
	p.playbackOffset = p.recording.Frames[p.currentFrame].Timestamp
}

// Update advances playback to the current wall time and returns the
// DataPoints newly reached, grouped by variable id, in frame order, from
// last_emitted_frame+1 through the frame at current_time. A variable's
// last-known value persists across frames with no fresh sample for it.
func (p *Player) Update() map[int][]model.DataPoint {
	out := make(map[int][]model.DataPoint)
	if p.recording == nil || p.state != PlayerPlaying {
		return out
	}

	target := p.CurrentTime()
	if target >= p.Duration() {
		if p.loop {
			p.playbackOffset = 0
			p.playbackStart = p.nowFn()
			p.lastEmitted = -1
			target = 0
		} else {
			target = p.Duration()
			p.state = PlayerStopped
		}
	}

	frames := p.recording.Frames
	idx := p.lastEmitted + 1
	for idx < len(frames) && frames[idx].Timestamp <= target {
		for varID, rc := range frames[idx].Values {
			p.lastKnown[varID] = rc
			out[varID] = append(out[varID], model.DataPoint{
				Timestamp: frames[idx].Timestamp, Raw: rc.Raw, Converted: rc.Converted,
			})
		}
		idx++
	}
	p.lastEmitted = idx - 1
	p.currentFrame = idx - 1
	if p.currentFrame < 0 {
		p.currentFrame = 0
	}
	return out
}

// CurrentFrame returns the current frame index.
func (p *Player) CurrentFrame() int { return p.currentFrame }

// LastKnown returns a variable's most recently emitted value, if any.
func (p *Player) LastKnown(varID int) (model.RawConverted, bool) {
	rc, ok := p.lastKnown[varID]
	return rc, ok
}

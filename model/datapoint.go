package model

import (
	"math"
	"time"
)

// MaxDataPoints bounds the per-variable ring buffer.
const MaxDataPoints = 100_000

// StatsRecalcInterval is how often (in evictions) the store recomputes
// min/max exactly to correct the drift introduced by O(1) eviction.
const StatsRecalcInterval = 1_000

// DataPoint is one sample of one variable's history. A NaN in either
// value field is a gap marker: the plot must break line continuity there.
type DataPoint struct {
	Timestamp time.Duration // since session start
	Raw       float64
	Converted float64
}

// IsGap reports whether this point is a gap marker.
func (p DataPoint) IsGap() bool {
	return math.IsNaN(p.Raw) || math.IsNaN(p.Converted)
}

// GapMarker builds a gap-marker DataPoint at the given timestamp, used
// when collection resumes from a pause.
func GapMarker(at time.Duration) DataPoint {
	return DataPoint{Timestamp: at, Raw: math.NaN(), Converted: math.NaN()}
}

// IncrementalStats tracks running count/sum/min/max in O(1) per push or
// pop.
type IncrementalStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

// Push folds one value into the running statistics.
func (s *IncrementalStats) Push(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	} else {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	s.Sum += v
	s.Count++
}

// PopSum removes v's contribution to Sum/Count only. Min/Max cannot be
// corrected in O(1) on eviction without tracking the departing extremum;
// periodic RecomputeExact corrects the drift.
func (s *IncrementalStats) PopSum(v float64) {
	s.Sum -= v
	s.Count--
	if s.Count < 0 {
		s.Count = 0
	}
}

// Mean returns the running mean, or 0 if no samples have been pushed.
func (s *IncrementalStats) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// RecomputeExact rebuilds Min/Max/Sum/Count exactly from the given
// (non-gap) values, correcting drift from PopSum calls.
func (s *IncrementalStats) RecomputeExact(values []float64) {
	*s = IncrementalStats{}
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		s.Push(v)
	}
}

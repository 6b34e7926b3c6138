// Package tsstore implements the UI-side ring-buffer store that consumes
// data batches off the bus and keeps per-variable statistics and a
// decimated rendering view.
package tsstore

import (
	"math"
	"sort"

	"github.com/oscillo/scopewatch/model"
)

// MaxRenderPoints bounds the decimated view handed to a plot layer.
const MaxRenderPoints = 2000

// VariableData is one variable's ring buffer plus its running
// statistics.
type VariableData struct {
	points []model.DataPoint
	head   int // index of the oldest point, only meaningful once full
	full   bool

	stats                 model.IncrementalStats
	evictionsSinceRecalc  int

	collecting bool
}

func newVariableData() *VariableData {
	return &VariableData{points: make([]model.DataPoint, 0, model.MaxDataPoints)}
}

// Push appends one point, evicting the oldest if the ring is full, and
// updates the running statistics in O(1).
func (d *VariableData) Push(p model.DataPoint) {
	if len(d.points) < model.MaxDataPoints {
		d.points = append(d.points, p)
	} else {
		evicted := d.points[d.head]
		d.points[d.head] = p
		d.head = (d.head + 1) % model.MaxDataPoints
		d.full = true
		if !evicted.IsGap() {
			d.stats.PopSum(evicted.Converted)
			d.evictionsSinceRecalc++
		}
	}
	if !p.IsGap() {
		d.stats.Push(p.Converted)
	}
	if d.evictionsSinceRecalc >= model.StatsRecalcInterval {
		d.RecomputeExact()
	}
}

// PushGap inserts a NaN-valued gap marker, used when collection resumes
// after a pause.
func (d *VariableData) PushGap(at model.DataPoint) {
	d.Push(model.GapMarker(at.Timestamp))
}

// ordered returns the ring's contents in chronological order.
func (d *VariableData) ordered() []model.DataPoint {
	if !d.full {
		return d.points
	}
	out := make([]model.DataPoint, 0, len(d.points))
	out = append(out, d.points[d.head:]...)
	out = append(out, d.points[:d.head]...)
	return out
}

// RecomputeExact rebuilds Min/Max/Sum/Count exactly over the current
// buffer, correcting the drift PopSum's O(1) eviction introduces.
func (d *VariableData) RecomputeExact() {
	values := make([]float64, 0, len(d.points))
	for _, p := range d.ordered() {
		if !p.IsGap() {
			values = append(values, p.Converted)
		}
	}
	d.stats.RecomputeExact(values)
	d.evictionsSinceRecalc = 0
}

// Statistics returns (min, max, mean) over the current buffer.
func (d *VariableData) Statistics() (min, max, mean float64) {
	return d.stats.Min, d.stats.Max, d.stats.Mean()
}

// Len returns the number of points currently held.
func (d *VariableData) Len() int { return len(d.points) }

// PlotPoints returns every raw [t_seconds, converted] pair in
// chronological order.
func (d *VariableData) PlotPoints() []PlotPoint {
	ordered := d.ordered()
	out := make([]PlotPoint, len(ordered))
	for i, p := range ordered {
		out[i] = PlotPoint{TimeSecs: p.Timestamp.Seconds(), Value: p.Converted}
	}
	return out
}

// PlotPoint is one [t_seconds, converted] sample for rendering.
type PlotPoint struct {
	TimeSecs float64
	Value    float64
}

// Decimate downsamples the buffer to at most MaxRenderPoints+2 points by
// min/max bucketing: the interior is split into MaxRenderPoints/2
// buckets, each contributing its min and max in chronological order; the
// first and last raw points are always kept on top of those.
func (d *VariableData) Decimate() []PlotPoint {
	points := d.ordered()
	if len(points) <= MaxRenderPoints {
		out := make([]PlotPoint, len(points))
		for i, p := range points {
			out[i] = PlotPoint{TimeSecs: p.Timestamp.Seconds(), Value: p.Converted}
		}
		return out
	}

	first := points[0]
	last := points[len(points)-1]
	interior := points[1 : len(points)-1]

	numBuckets := MaxRenderPoints / 2
	if numBuckets < 1 {
		numBuckets = 1
	}
	out := make([]PlotPoint, 0, MaxRenderPoints+2)
	out = append(out, PlotPoint{TimeSecs: first.Timestamp.Seconds(), Value: first.Converted})

	if len(interior) > 0 {
		bucketSize := float64(len(interior)) / float64(numBuckets)
		for b := 0; b < numBuckets; b++ {
			lo := int(float64(b) * bucketSize)
			hi := int(float64(b+1) * bucketSize)
			if hi > len(interior) {
				hi = len(interior)
			}
			if lo >= hi {
				continue
			}
			bucket := interior[lo:hi]
			minP, maxP := bucketExtrema(bucket)
			if minP.Timestamp <= maxP.Timestamp {
				out = append(out,
					PlotPoint{TimeSecs: minP.Timestamp.Seconds(), Value: minP.Converted},
					PlotPoint{TimeSecs: maxP.Timestamp.Seconds(), Value: maxP.Converted},
				)
			} else {
				out = append(out,
					PlotPoint{TimeSecs: maxP.Timestamp.Seconds(), Value: maxP.Converted},
					PlotPoint{TimeSecs: minP.Timestamp.Seconds(), Value: minP.Converted},
				)
			}
		}
	}

	out = append(out, PlotPoint{TimeSecs: last.Timestamp.Seconds(), Value: last.Converted})
	return out
}

func bucketExtrema(bucket []model.DataPoint) (min, max model.DataPoint) {
	min, max = bucket[0], bucket[0]
	for _, p := range bucket[1:] {
		if p.IsGap() {
			continue
		}
		if math.IsNaN(min.Converted) || p.Converted < min.Converted {
			min = p
		}
		if math.IsNaN(max.Converted) || p.Converted > max.Converted {
			max = p
		}
	}
	return min, max
}

// Store holds one VariableData per observed variable id.
type Store struct {
	vars       map[int]*VariableData
	collecting bool
}

// New builds an empty Store.
func New() *Store {
	return &Store{vars: make(map[int]*VariableData)}
}

func (s *Store) variable(id int) *VariableData {
	v, ok := s.vars[id]
	if !ok {
		v = newVariableData()
		s.vars[id] = v
	}
	return v
}

// Ingest consumes one DataBatch: a tick's packet of samples, each pushed
// to its variable's ring buffer.
func (s *Store) Ingest(packet *model.DataPacket) {
	for _, samp := range packet.Samples {
		vd := s.variable(samp.VarID)
		if s.collecting && !vd.collecting && vd.Len() > 0 {
			vd.PushGap(model.DataPoint{Timestamp: packet.Timestamp})
		}
		vd.collecting = true
		vd.Push(model.DataPoint{Timestamp: packet.Timestamp, Raw: samp.Raw, Converted: samp.Converted})
	}
}

// SetCollecting marks the store's global collection state, consulted by
// Ingest to decide whether a resume gap marker is needed when
// collection resumes after a pause.
func (s *Store) SetCollecting(collecting bool) {
	if !collecting {
		for _, vd := range s.vars {
			vd.collecting = false
		}
	}
	s.collecting = collecting
}

// Variable returns the VariableData for id, creating it if necessary.
func (s *Store) Variable(id int) *VariableData { return s.variable(id) }

// VariableIDs returns the observed variable ids in ascending order.
func (s *Store) VariableIDs() []int {
	ids := make([]int, 0, len(s.vars))
	for id := range s.vars {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Clear drops all stored data.
func (s *Store) Clear() {
	s.vars = make(map[int]*VariableData)
}

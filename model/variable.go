package model

import "sync/atomic"

// PlotStyle is the rendering style a UI pane should use for a variable.
type PlotStyle int

const (
	PlotLine PlotStyle = iota
	PlotScatter
	PlotStep
	PlotArea
)

// RGBA is a plotting color; the core stores it opaquely for the UI.
type RGBA struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// PointerState classifies a dereferenced pointer's last-read value.
// The classification is advisory: it may mis-classify valid targets on
// unusual memory layouts.
type PointerState int

const (
	PointerUnread PointerState = iota
	PointerValid
	PointerNull
	PointerInvalid
	PointerReadError
)

func (s PointerState) String() string {
	switch s {
	case PointerUnread:
		return "unread"
	case PointerValid:
		return "valid"
	case PointerNull:
		return "null"
	case PointerInvalid:
		return "invalid"
	case PointerReadError:
		return "read_error"
	}
	return "unknown"
}

// Thresholds used to classify a dereferenced pointer value: coarse
// "very low" / "very high" / "non-word-aligned" classifiers.
const (
	PointerLowWatermark  = 0x1000
	PointerHighWatermark = 0xFFFF_0000 // platform-specific in spirit; conservative default for 32-bit targets
)

// ClassifyPointer implements the pointer-invalidation heuristic.
func ClassifyPointer(addr uint64, alignment int) PointerState {
	if addr == 0 {
		return PointerNull
	}
	if addr < PointerLowWatermark || addr > PointerHighWatermark {
		return PointerInvalid
	}
	if alignment > 1 && addr%uint64(alignment) != 0 {
		return PointerInvalid
	}
	return PointerValid
}

// PointerMeta holds the optional two-stage dereference bookkeeping a
// pointer-typed Variable carries.
type PointerMeta struct {
	CachedAddress      uint64       `json:"cached_address"`
	LastDereferencedAt float64      `json:"last_dereferenced_at"` // seconds since collection start
	DereferenceRateHz  float64      `json:"dereference_rate_hz"`
	PointerParentID    int          `json:"pointer_parent_id"` // -1 if this Variable *is* the pointer, not a dependent
	OffsetFromPointer  int64        `json:"offset_from_pointer"`
	State              PointerState `json:"-"`
}

// Variable is the observed entity. The pipeline thread is the
// single writer of pointer state, cached address, and any state machine
// fields; the UI only ever receives snapshots.
type Variable struct {
	ID          int          `json:"id"`
	Name        string       `json:"name"`
	Unit        string       `json:"unit,omitempty"`
	Address     uint64       `json:"address"`
	Type        VariableType `json:"type"`
	Converter   string       `json:"converter,omitempty"` // optional script source; empty means raw pass-through
	Enabled     bool         `json:"enabled"`
	ShowInGraph bool         `json:"show_in_graph"`
	Color       RGBA         `json:"color"`
	PlotStyle   PlotStyle    `json:"plot_style"`
	YAxis       int          `json:"y_axis"` // 0 or 1
	PollRateHz  float64      `json:"poll_rate_hz"`
	ParentID    int          `json:"parent_id"` // -1 if top-level

	Pointer *PointerMeta `json:"pointer,omitempty"` // nil unless this variable is pointer-typed
}

// EffectiveAddress returns the address this variable should be read at
// given its (possibly pointer) parent's last cached address, per the
// invariant: addr(child, T) = cached_address(parent, T) + offset.
func (v *Variable) EffectiveAddress(parentCachedAddr uint64) uint64 {
	if v.Pointer == nil || v.Pointer.PointerParentID < 0 {
		return v.Address
	}
	return uint64(int64(parentCachedAddr) + v.Pointer.OffsetFromPointer)
}

// IDCounter hands out process-unique Variable ids, synchronized to
// max+1 on project load.
type IDCounter struct{ next atomic.Int64 }

// Next returns the next unique id.
func (c *IDCounter) Next() int { return int(c.next.Add(1) - 1) }

// SyncToMax bumps the counter so that subsequent Next() calls never
// collide with an id already present in ids.
func (c *IDCounter) SyncToMax(ids []int) {
	max := int64(-1)
	for _, id := range ids {
		if int64(id) > max {
			max = int64(id)
		}
	}
	for {
		cur := c.next.Load()
		if cur > max {
			return
		}
		if c.next.CompareAndSwap(cur, max+1) {
			return
		}
	}
}

// Package transform implements the ScriptTransform node: it applies a
// per-variable user script, with stateful history, to convert a raw
// sample into a converted one. Scripts are expressions evaluated by
// github.com/expr-lang/expr, against a registered set of signal-
// processing helper functions.
package transform

import (
	"fmt"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/oscillo/scopewatch/model"
	"github.com/oscillo/scopewatch/scopeerr"
)

// Evaluator safety limits.
const (
	MaxExpressionDepth = 64
	MaxCallDepth       = 32
	MaxOperations      = 10_000
	MaxCollectionSize  = 1_000
)

// compiledScript is cached by source string, content-addressed.
type compiledScript struct {
	program *vm.Program
	err     error // compile error, cached so repeated adds don't recompile
}

// Cache is a shared, lock-guarded compilation cache. It may be shared
// across TransformStage instances; only the pipeline thread writes to
// it.
type Cache struct {
	mu      sync.RWMutex
	scripts map[string]*compiledScript
}

// NewCache builds an empty compilation cache.
func NewCache() *Cache {
	return &Cache{scripts: make(map[string]*compiledScript)}
}

func (c *Cache) compile(source string) *compiledScript {
	c.mu.RLock()
	cs, ok := c.scripts[source]
	c.mu.RUnlock()
	if ok {
		return cs
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.scripts[source]; ok {
		return cs
	}
	program, err := expr.Compile(source)
	if err == nil {
		if n := countNodes(program.Node); n > MaxOperations {
			err = fmt.Errorf("converter exceeds %d expression nodes (got %d)", MaxOperations, n)
		}
	}
	cs = &compiledScript{program: program, err: err}
	c.scripts[source] = cs
	return cs
}

// countNodes backs the only evaluator safety limit this package checks:
// at compile time a script with more than MaxOperations AST nodes is
// rejected, which bounds a pathological one-shot script (e.g. a huge
// literal array) independently of how many samples it is later run
// against. MaxExpressionDepth, MaxCallDepth and MaxCollectionSize are
// not checked anywhere, and nothing counts operations per evaluation.
type nodeCounter struct{ n int }

func (v *nodeCounter) Visit(node *ast.Node) { v.n++ }

func countNodes(node ast.Node) int {
	v := &nodeCounter{}
	ast.Walk(&node, v)
	return v.n
}

// state is the per-variable history a Stage keeps across ticks:
// prev_raw, prev_converted, prev_time_secs.
type state struct {
	prevRaw       float64
	prevConverted float64
	prevTimeSecs  float64
	hasPrev       bool
}

// Stage is the ScriptTransform node. It is owned by exactly one
// goroutine (the pipeline thread), so its internal state needs no
// synchronization.
type Stage struct {
	cache *Cache

	collectionStart float64 // seconds, what time() reports while inactive; never assigned, so 0
	active          bool

	state map[int]*state // per-variable id
}

// NewStage builds a TransformStage backed by cache. Pass a shared Cache
// to reuse compiled scripts across Stage instances.
func NewStage(cache *Cache) *Stage {
	if cache == nil {
		cache = NewCache()
	}
	return &Stage{cache: cache, state: make(map[int]*state)}
}

// ClearData clears all per-variable history. State is cleared on
// ClearData and on collection start.
func (s *Stage) ClearData() {
	s.state = make(map[int]*state)
}

// Start marks the stage active and clears history, so dt()==0 and
// has_prev()==false for every variable's first post-start sample
// regardless of history before the stop.
func (s *Stage) Start() {
	s.active = true
	s.ClearData()
}

// Stop marks the stage inactive. While active, time() reports the
// nowSecs passed to Apply; while inactive it reports collectionStart,
// which is always 0, so time() does not hold its last active value.
func (s *Stage) Stop() {
	s.active = false
}

func (s *Stage) stateFor(varID int) *state {
	st, ok := s.state[varID]
	if !ok {
		st = &state{}
		s.state[varID] = st
	}
	return st
}

// Apply converts one packet of (var_id, raw, raw) samples in place into
// (var_id, raw, converted), consulting variables for each sample's
// converter source.
func (s *Stage) Apply(packet *model.DataPacket, variables map[int]*model.Variable, nowSecs float64) {
	for i := range packet.Samples {
		samp := &packet.Samples[i]
		v := variables[samp.VarID]
		if v == nil || v.Converter == "" {
			samp.Converted = samp.Raw
			s.updateState(samp.VarID, samp.Raw, samp.Raw, nowSecs)
			continue
		}
		converted, err := s.eval(v, samp.Raw, nowSecs)
		if err != nil {
			// Evaluation failure: log at trace level (left to the
			// caller/pipeline to do via the returned event), fall back to
			// raw, and still update state so later derivative-style
			// transforms don't wedge.
			packet.Events = append(packet.Events, model.PipelineEvent{
				Kind:    model.EventVariableError,
				VarID:   v.ID,
				NodeID:  -1,
				Message: fmt.Sprintf("script evaluation failed: %v", err),
			})
			samp.Converted = samp.Raw
			s.updateState(v.ID, samp.Raw, samp.Raw, nowSecs)
			continue
		}
		samp.Converted = converted
		s.updateState(v.ID, samp.Raw, converted, nowSecs)
	}
}

func (s *Stage) updateState(varID int, raw, converted, nowSecs float64) {
	st := s.stateFor(varID)
	st.prevRaw = raw
	st.prevConverted = converted
	st.prevTimeSecs = nowSecs
	st.hasPrev = true
}

// eval runs v's compiled converter against one sample. A compile failure
// leaves the variable with no usable converter; the caller treats that
// the same as an evaluation failure: raw pass-through.
func (s *Stage) eval(v *model.Variable, raw, nowSecs float64) (float64, error) {
	cs := s.cache.compile(v.Converter)
	if cs.err != nil {
		return 0, scopeerr.Wrap(scopeerr.KindScript, cs.err, "compile converter for var %d", v.ID)
	}

	st := s.stateFor(v.ID)
	dt := 0.0
	if st.hasPrev {
		dt = nowSecs - st.prevTimeSecs
	}
	timeSecs := nowSecs
	if !s.active {
		timeSecs = s.collectionStart
	}

	env := buildEnv(raw, timeSecs, dt, st.prevConverted, st.prevRaw, st.hasPrev)
	out, err := expr.Run(cs.program, env)
	if err != nil {
		return 0, scopeerr.Wrap(scopeerr.KindScript, err, "evaluate converter for var %d", v.ID)
	}
	f, ok := toFloat(out)
	if !ok {
		return 0, scopeerr.ForVariable(scopeerr.KindScript, v.ID, "converter did not return a number")
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// buildEnv constructs the per-sample execution context: a fresh map of
// values and closures, since each field/function must see this sample's
// specific raw/time/dt/prev values.
func buildEnv(raw, timeSecs, dt, prevConverted, prevRaw float64, hasPrev bool) map[string]any {
	prev := math.NaN()
	prevR := math.NaN()
	if hasPrev {
		prev = prevConverted
		prevR = prevRaw
	}

	env := map[string]any{
		"value":    raw,
		"raw":      raw,
		"time":     func() float64 { return timeSecs },
		"dt":       func() float64 { return dt },
		"prev":     func() float64 { return prev },
		"prev_raw": func() float64 { return prevR },
		"has_prev": func() bool { return hasPrev },

		"derivative": func(value float64) float64 {
			if dt > 0 && hasPrev {
				return (value - prev) / dt
			}
			return 0
		},
		"integrate": func(value float64) float64 {
			if !hasPrev {
				return 0
			}
			return prev + value*dt
		},
		"smooth": func(value, alpha float64) float64 {
			if !hasPrev {
				return value
			}
			alpha = clamp(alpha, 0, 1)
			return alpha*prev + (1-alpha)*value
		},
		"lowpass": func(value, fc float64) float64 {
			if !hasPrev || fc <= 0 {
				return value
			}
			rc := 1 / (2 * math.Pi * fc)
			a := dt / (rc + dt)
			return prev + a*(value-prev)
		},
		"highpass": func(value, prevIn, prevOut, fc, dtArg float64) float64 {
			if fc <= 0 || dtArg <= 0 {
				return 0
			}
			rc := 1 / (2 * math.Pi * fc)
			a := rc / (rc + dtArg)
			return a * (prevOut + value - prevIn)
		},
		"deadband": func(value, center, width float64) float64 {
			if math.Abs(value-center) < width/2 {
				return center
			}
			return value
		},
		"rate_limit": func(value, maxRate float64) float64 {
			if !hasPrev {
				return value
			}
			maxDelta := maxRate * dt
			delta := value - prev
			if delta > maxDelta {
				delta = maxDelta
			}
			if delta < -maxDelta {
				delta = -maxDelta
			}
			return prev + delta
		},
		"hysteresis": func(value, prevOut, lo, hi, loVal, hiVal float64) float64 {
			if value <= lo {
				return loVal
			}
			if value >= hi {
				return hiVal
			}
			return prevOut
		},

		"clamp": clamp,
		"min":   math.Min,
		"max":   math.Max,
		"lerp": func(a, b, t float64) float64 {
			return a + (b-a)*t
		},
		"map_range": func(v, inLo, inHi, outLo, outHi float64) float64 {
			if inHi == inLo {
				return outLo
			}
			t := (v - inLo) / (inHi - inLo)
			return outLo + t*(outHi-outLo)
		},
		"sign": func(v float64) float64 {
			switch {
			case v > 0:
				return 1
			case v < 0:
				return -1
			default:
				return 0
			}
		},
		"is_nan":    math.IsNaN,
		"is_finite": func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) },
		"sin":       math.Sin,
		"cos":       math.Cos,
		"tan":       math.Tan,
		"pow":       math.Pow,
		"log":       math.Log,
		"log2":      math.Log2,
		"log10":     math.Log10,
		"exp":       math.Exp,
		"sqrt":      math.Sqrt,
		"abs":       math.Abs,
		"pi":        math.Pi,
		"e":         math.E,
	}
	return env
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

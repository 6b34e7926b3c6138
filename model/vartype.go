// Package model holds the data model shared by every stage of the
// sampling and processing pipeline: variable types, the Variable record
// itself, DataPoint/DataPacket transport types, and the
// recording/project-adjacent value types that cross package boundaries.
package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// VariableType is a tagged variant over the primitive wire types a
// Variable may decode to. RawN is read-only: the system refuses to write
// it.
type VariableType struct {
	kind rawKind
	n    int // byte width for Raw; ignored otherwise
}

type rawKind int

const (
	kU8 rawKind = iota
	kU16
	kU32
	kU64
	kI8
	kI16
	kI32
	kI64
	kF32
	kF64
	kBool
	kRaw
)

var (
	U8   = VariableType{kind: kU8}
	U16  = VariableType{kind: kU16}
	U32  = VariableType{kind: kU32}
	U64  = VariableType{kind: kU64}
	I8   = VariableType{kind: kI8}
	I16  = VariableType{kind: kI16}
	I32  = VariableType{kind: kI32}
	I64  = VariableType{kind: kI64}
	F32  = VariableType{kind: kF32}
	F64  = VariableType{kind: kF64}
	Bool = VariableType{kind: kBool}
)

// Raw constructs a read-only raw(n) type of n bytes.
func Raw(n int) VariableType { return VariableType{kind: kRaw, n: n} }

// Size returns the byte width of the type.
func (t VariableType) Size() int {
	switch t.kind {
	case kU8, kI8, kBool:
		return 1
	case kU16, kI16:
		return 2
	case kU32, kI32, kF32:
		return 4
	case kU64, kI64, kF64:
		return 8
	case kRaw:
		return t.n
	}
	return 0
}

// IsWritable reports whether the system will accept a write of this type.
// raw(n) is read-only by design.
func (t VariableType) IsWritable() bool { return t.kind != kRaw }

func (t VariableType) String() string {
	switch t.kind {
	case kU8:
		return "u8"
	case kU16:
		return "u16"
	case kU32:
		return "u32"
	case kU64:
		return "u64"
	case kI8:
		return "i8"
	case kI16:
		return "i16"
	case kI32:
		return "i32"
	case kI64:
		return "i64"
	case kF32:
		return "f32"
	case kF64:
		return "f64"
	case kBool:
		return "bool"
	case kRaw:
		return fmt.Sprintf("raw(%d)", t.n)
	}
	return "unknown"
}

// Decode interprets little-endian bytes as f64, per the type's lossy
// u64/i64 conversion convention: a deliberate precision loss for a
// uniform plotting representation.
func (t VariableType) Decode(b []byte) (float64, error) {
	if len(b) < t.Size() {
		return 0, fmt.Errorf("short read: need %d bytes, got %d", t.Size(), len(b))
	}
	switch t.kind {
	case kU8:
		return float64(b[0]), nil
	case kI8:
		return float64(int8(b[0])), nil
	case kBool:
		if b[0] != 0 {
			return 1, nil
		}
		return 0, nil
	case kU16:
		return float64(binary.LittleEndian.Uint16(b)), nil
	case kI16:
		return float64(int16(binary.LittleEndian.Uint16(b))), nil
	case kU32:
		return float64(binary.LittleEndian.Uint32(b)), nil
	case kI32:
		return float64(int32(binary.LittleEndian.Uint32(b))), nil
	case kU64:
		return float64(binary.LittleEndian.Uint64(b)), nil // lossy by design
	case kI64:
		return float64(int64(binary.LittleEndian.Uint64(b))), nil // lossy by design
	case kF32:
		bits := binary.LittleEndian.Uint32(b)
		return float64(math.Float32frombits(bits)), nil
	case kF64:
		bits := binary.LittleEndian.Uint64(b)
		return math.Float64frombits(bits), nil
	case kRaw:
		return 0, fmt.Errorf("raw(%d) has no scalar decode", t.n)
	}
	return 0, fmt.Errorf("unknown variable type")
}

// Encode converts value into little-endian bytes of this type, with
// saturating cast semantics for integer types and zero/nonzero for bool.
func (t VariableType) Encode(value float64) ([]byte, error) {
	if !t.IsWritable() {
		return nil, fmt.Errorf("type %s is not writable", t)
	}
	b := make([]byte, t.Size())
	switch t.kind {
	case kU8:
		b[0] = byte(saturate(value, 0, 255))
	case kI8:
		b[0] = byte(int8(saturate(value, -128, 127)))
	case kBool:
		if value != 0 {
			b[0] = 1
		}
	case kU16:
		binary.LittleEndian.PutUint16(b, uint16(saturate(value, 0, 65535)))
	case kI16:
		binary.LittleEndian.PutUint16(b, uint16(int16(saturate(value, -32768, 32767))))
	case kU32:
		binary.LittleEndian.PutUint32(b, uint32(saturate(value, 0, 4294967295)))
	case kI32:
		binary.LittleEndian.PutUint32(b, uint32(int32(saturate(value, -2147483648, 2147483647))))
	case kU64:
		u := uint64(0)
		switch {
		case value >= 1<<64:
			u = math.MaxUint64
		case value > 0:
			u = uint64(value)
		}
		binary.LittleEndian.PutUint64(b, u)
	case kI64:
		var i int64
		switch {
		case value >= 1<<63:
			i = math.MaxInt64
		case value <= -(1 << 63):
			i = math.MinInt64
		case !math.IsNaN(value):
			i = int64(value)
		}
		binary.LittleEndian.PutUint64(b, uint64(i))
	case kF32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(value)))
	case kF64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(value))
	}
	return b, nil
}

// MarshalJSON renders the type by its textual name (e.g. "u32",
// "raw(4)"), since its fields are unexported and a project file must
// round-trip a Variable's type through JSON.
func (t VariableType) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON parses the textual name produced by MarshalJSON.
func (t *VariableType) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("variable type: %w", err)
	}
	parsed, err := ParseVariableType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseVariableType parses the textual name a VariableType renders as,
// the form a project file's config.variables[].type field carries.
func ParseVariableType(s string) (VariableType, error) {
	switch s {
	case "u8":
		return U8, nil
	case "u16":
		return U16, nil
	case "u32":
		return U32, nil
	case "u64":
		return U64, nil
	case "i8":
		return I8, nil
	case "i16":
		return I16, nil
	case "i32":
		return I32, nil
	case "i64":
		return I64, nil
	case "f32":
		return F32, nil
	case "f64":
		return F64, nil
	case "bool":
		return Bool, nil
	}
	if strings.HasPrefix(s, "raw(") && strings.HasSuffix(s, ")") {
		n, err := strconv.Atoi(s[len("raw(") : len(s)-1])
		if err != nil {
			return VariableType{}, fmt.Errorf("variable type: bad raw() width in %q: %w", s, err)
		}
		return Raw(n), nil
	}
	return VariableType{}, fmt.Errorf("variable type: unknown type %q", s)
}

func saturate(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// pkg/types/scalar.go
package types

// ScalarType is the type tag of a JSON scalar value used by vector
// metadata filters: a filter is a set of (field, scalar) conjuncts.
type ScalarType int

const (
	ScalarNull ScalarType = iota
	ScalarBool
	ScalarInt
	ScalarFloat
	ScalarText
)

// Scalar is a tagged JSON scalar — the only shape a metadata filter
// value may take. Composite (object/array) metadata values never match
// a filter conjunct other than via exact absence.
type Scalar struct {
	typ     ScalarType
	boolVal bool
	intVal  int64
	fltVal  float64
	textVal string
}

func NewNullScalar() Scalar        { return Scalar{typ: ScalarNull} }
func NewBoolScalar(b bool) Scalar  { return Scalar{typ: ScalarBool, boolVal: b} }
func NewIntScalar(i int64) Scalar  { return Scalar{typ: ScalarInt, intVal: i} }
func NewFloatScalar(f float64) Scalar { return Scalar{typ: ScalarFloat, fltVal: f} }
func NewTextScalar(s string) Scalar { return Scalar{typ: ScalarText, textVal: s} }

func (s Scalar) Type() ScalarType { return s.typ }
func (s Scalar) IsNull() bool     { return s.typ == ScalarNull }
func (s Scalar) Bool() bool       { return s.boolVal }
func (s Scalar) Int() int64       { return s.intVal }
func (s Scalar) Float() float64   { return s.fltVal }
func (s Scalar) Text() string     { return s.textVal }

// Equal reports whether two scalars represent the same JSON value.
// Mismatched types are never equal, including numeric int/float.
func (s Scalar) Equal(other Scalar) bool {
	if s.typ != other.typ {
		return false
	}
	switch s.typ {
	case ScalarNull:
		return true
	case ScalarBool:
		return s.boolVal == other.boolVal
	case ScalarInt:
		return s.intVal == other.intVal
	case ScalarFloat:
		return s.fltVal == other.fltVal
	case ScalarText:
		return s.textVal == other.textVal
	default:
		return false
	}
}

// ScalarFromAny converts a decoded msgpack/JSON-ish value into a Scalar.
// Returns false if v is not a scalar (e.g. it's a map or slice).
func ScalarFromAny(v any) (Scalar, bool) {
	switch t := v.(type) {
	case nil:
		return NewNullScalar(), true
	case bool:
		return NewBoolScalar(t), true
	case string:
		return NewTextScalar(t), true
	case int:
		return NewIntScalar(int64(t)), true
	case int8:
		return NewIntScalar(int64(t)), true
	case int16:
		return NewIntScalar(int64(t)), true
	case int32:
		return NewIntScalar(int64(t)), true
	case int64:
		return NewIntScalar(t), true
	case uint64:
		return NewIntScalar(int64(t)), true
	case float32:
		return NewFloatScalar(float64(t)), true
	case float64:
		return NewFloatScalar(t), true
	default:
		return Scalar{}, false
	}
}

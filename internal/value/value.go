package value

import (
	"fmt"
	"math"
)

// Kind identifies a Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindArray
	KindObject
	KindNodeRef
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindNodeRef:
		return "noderef"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a sealed interface over the supported variants.
type Value interface {
	Kind() Kind
	value() // Sealed - only this package implements it
}

// Null is the null value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

// Bool is a boolean.
type Bool bool

func (Bool) Kind() Kind { return KindBool }
func (Bool) value()     {}

// Int is a signed 64-bit integer.
type Int int64

func (Int) Kind() Kind { return KindInt }
func (Int) value()     {}

// Uint is an unsigned 64-bit integer.
type Uint uint64

func (Uint) Kind() Kind { return KindUint }
func (Uint) value()     {}

// Float is an IEEE-754 double. NaN and the infinities are valid.
type Float float64

func (Float) Kind() Kind { return KindFloat }
func (Float) value()     {}

// String is a UTF-8 string.
type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

// NodeRef is an opaque path or identifier into the node graph.
// It is carried as-is and never resolved.
type NodeRef string

func (NodeRef) Kind() Kind { return KindNodeRef }
func (NodeRef) value()     {}

// Array is an ordered sequence of values.
type Array []Value

func (Array) Kind() Kind { return KindArray }
func (Array) value()     {}

// Member is one key/value entry of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is an ordered mapping of string keys to values.
// Member order is significant and preserved by the codec.
type Object []Member

func (Object) Kind() Kind { return KindObject }
func (Object) value()     {}

// M is a shorthand for Member.
// Example: Obj(M("x", Int(1)), M("y", String("héllo")))
func M(key string, v Value) Member {
	return Member{Key: key, Value: v}
}

// Obj builds an Object from members in the given order.
func Obj(members ...Member) Object {
	if members == nil {
		return Object{}
	}
	return Object(members)
}

// Arr builds an Array from values.
func Arr(vals ...Value) Array {
	if vals == nil {
		return Array{}
	}
	return Array(vals)
}

// Get returns the first member with the given key.
func (o Object) Get(key string) (Value, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// Keys returns member keys in order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, m := range o {
		keys[i] = m.Key
	}
	return keys
}

// IsNonFinite reports whether f is NaN or ±Inf.
func (f Float) IsNonFinite() bool {
	x := float64(f)
	return math.IsNaN(x) || math.IsInf(x, 0)
}

// Equal reports structural identity of a and b.
//
// Floats compare by bit pattern: NaN equals a NaN with the same payload
// and -0 is distinct from +0. Objects compare member by member in order.
// A nil Value only equals another nil.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Uint:
		return av == b.(Uint)
	case Float:
		return math.Float64bits(float64(av)) == math.Float64bits(float64(b.(Float)))
	case String:
		return av == b.(String)
	case NodeRef:
		return av == b.(NodeRef)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Key != bv[i].Key || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

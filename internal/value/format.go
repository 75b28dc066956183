package value

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Format renders v as a single deterministic line.
//
// The form is JSON-like with three extensions: non-finite floats print as
// NaN, +Inf and -Inf; floats always carry a decimal point or exponent so
// they never read as integers; node references print as @ref("path").
func Format(v Value) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v Value) {
	switch val := v.(type) {
	case nil:
		b.WriteString("<nil>")
	case Null:
		b.WriteString("null")
	case Bool:
		b.WriteString(strconv.FormatBool(bool(val)))
	case Int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case Uint:
		b.WriteString(strconv.FormatUint(uint64(val), 10))
	case Float:
		b.WriteString(formatFloat(float64(val)))
	case String:
		b.WriteString(strconv.Quote(string(val)))
	case NodeRef:
		b.WriteString("@ref(")
		b.WriteString(strconv.Quote(string(val)))
		b.WriteByte(')')
	case Array:
		b.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeValue(b, elem)
		}
		b.WriteByte(']')
	case Object:
		b.WriteByte('{')
		for i, m := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(m.Key))
			b.WriteByte(':')
			writeValue(b, m.Value)
		}
		b.WriteByte('}')
	default:
		fmt.Fprintf(b, "<%T>", v)
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// FromGo converts a native Go value into a Value.
//
// Maps are converted with their keys sorted so the result is
// deterministic. Values that already implement Value pass through.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Uint(val), nil
	case uint8:
		return Uint(val), nil
	case uint16:
		return Uint(val), nil
	case uint32:
		return Uint(val), nil
	case uint64:
		return Uint(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case string:
		return String(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := make(Object, 0, len(val))
		for _, k := range keys {
			conv, err := FromGo(val[k])
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj = append(obj, Member{Key: k, Value: conv})
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

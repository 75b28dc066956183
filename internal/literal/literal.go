package literal

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/fxd/internal/value"
)

// refKey marks a node reference: {"$ref": "path/to/node"}.
const refKey = "$ref"

// Parse compiles a CUE expression into a concrete Value.
//
// Objects keep their declaration order. Integers that overflow int64 but
// fit uint64 become Uint. A struct whose only field is "$ref" with a
// string value becomes a NodeRef.
func Parse(src string) (value.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	return fromCUE(v, "$")
}

func fromCUE(v cue.Value, path string) (value.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return value.Bool(b), nil
	case cue.IntKind:
		if n, err := v.Int64(); err == nil {
			return value.Int(n), nil
		}
		u, err := v.Uint64()
		if err != nil {
			return nil, fmt.Errorf("%s: integer out of range: %w", path, err)
		}
		return value.Uint(u), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return value.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return value.String(s), nil
	case cue.ListKind:
		it, err := v.List()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		arr := value.Array{}
		for i := 0; it.Next(); i++ {
			elem, err := fromCUE(it.Value(), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		it, err := v.Fields()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		obj := value.Object{}
		for it.Next() {
			key := it.Selector().Unquoted()
			member, err := fromCUE(it.Value(), path+"."+key)
			if err != nil {
				return nil, err
			}
			obj = append(obj, value.M(key, member))
		}
		if len(obj) == 1 && obj[0].Key == refKey {
			if ref, ok := obj[0].Value.(value.String); ok {
				return value.NodeRef(ref), nil
			}
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("%s: unsupported CUE kind %s", path, v.Kind())
	}
}

package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxd/internal/value"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	buf, err := Encode(v)
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)
	return got
}

func nested(depth int) value.Value {
	var v value.Value = value.Int(7)
	for i := 0; i < depth; i++ {
		if i%2 == 0 {
			v = value.Arr(v)
		} else {
			v = value.Obj(value.M("n", v))
		}
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    value.Value
	}{
		{"null", value.Null{}},
		{"true", value.Bool(true)},
		{"false", value.Bool(false)},
		{"int min", value.Int(math.MinInt64)},
		{"int max", value.Int(math.MaxInt64)},
		{"uint max", value.Uint(math.MaxUint64)},
		{"float", value.Float(3.25)},
		{"negative zero", value.Float(math.Copysign(0, -1))},
		{"nan", value.Float(math.NaN())},
		{"nan payload", value.Float(math.Float64frombits(0x7ff8000000000abc))},
		{"+inf", value.Float(math.Inf(1))},
		{"-inf", value.Float(math.Inf(-1))},
		{"empty string", value.String("")},
		{"unicode", value.String("héllo, 世界 🌍")},
		{"noderef", value.NodeRef("/scene/camera/0")},
		{"empty array", value.Arr()},
		{"empty object", value.Obj()},
		{"packed ints", value.Arr(value.Int(-1), value.Int(0), value.Int(1))},
		{"packed uints", value.Arr(value.Uint(1), value.Uint(math.MaxUint64))},
		{"packed floats", value.Arr(value.Float(math.NaN()), value.Float(math.Inf(-1)), value.Float(0.5))},
		{"mixed array", value.Arr(value.Int(1), value.Uint(1), value.Float(1), value.Null{}, value.Bool(true))},
		{"object in array", value.Arr(value.Obj(value.M("a", value.Null{})), value.Obj())},
		{"member order", value.Obj(value.M("z", value.Int(1)), value.M("a", value.Int(2)), value.M("m", value.Int(3)))},
		{"duplicate keys", value.Obj(value.M("k", value.Int(1)), value.M("k", value.String("again")))},
		{"empty key", value.Obj(value.M("", value.Bool(false)))},
		{"deep", nested(MaxDepth)},
		{"everything", value.Obj(
			value.M("ref", value.NodeRef("/a/b")),
			value.M("nums", value.Arr(value.Float(math.Inf(1)), value.Float(-2))),
			value.M("meta", value.Obj(value.M("ok", value.Bool(true)), value.M("none", value.Null{}))),
			value.M("list", value.Arr(value.String("x"), value.Arr(), value.Obj())),
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.v)
			assert.True(t, value.Equal(tt.v, got), "want %s, got %s", value.Format(tt.v), value.Format(got))
		})
	}
}

func TestRoundTrip_MixedObject(t *testing.T) {
	v := value.Obj(
		value.M("x", value.Int(1)),
		value.M("y", value.String("héllo")),
		value.M("z", value.Arr(value.Int(1), value.Int(2), value.Int(3))),
	)
	got := roundTrip(t, v)
	assert.True(t, value.Equal(v, got))
	assert.Equal(t, `{"x":1,"y":"héllo","z":[1,2,3]}`, value.Format(got))
}

func TestEncode_Header(t *testing.T) {
	buf, err := Encode(value.Obj(value.M("x", value.Int(1)), value.M("y", value.Arr(value.String("a")))))
	require.NoError(t, err)

	h, err := ReadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, MajorVersion, h.Major)
	assert.Equal(t, tagObject, h.RootTag())
	assert.Equal(t, uint32(HeaderSize), h.DescriptorTable)
	assert.Equal(t, uint64(HeaderSize+DescriptorSize), h.NameTable)
	assert.Equal(t, uint64(len(buf)), h.TotalLength)
	// root, x, y, y[0]
	assert.Equal(t, uint32(4), h.FieldCount)
	assert.Equal(t, "FXBV", string(buf[:4]))
}

func TestEncode_NamesDeduplicated(t *testing.T) {
	v := value.Arr(
		value.Obj(value.M("name", value.Int(1))),
		value.Obj(value.M("name", value.Int(2))),
		value.Obj(value.M("name", value.Int(3))),
	)
	buf, err := Encode(v)
	require.NoError(t, err)

	h, err := ReadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[h.NameTable:]))
	assert.Equal(t, 1, strings.Count(string(buf), "name"))
}

func TestEncode_PackedDensity(t *testing.T) {
	arr := make(value.Array, 1000)
	for i := range arr {
		arr[i] = value.Int(int64(i) * 1_000_003)
	}
	buf, err := Encode(arr)
	require.NoError(t, err)

	// header + root descriptor + empty name table + tag + count + 8 bytes each
	assert.Len(t, buf, HeaderSize+DescriptorSize+4+1+4+8*1000)
}

func TestEncode_DenserThanText(t *testing.T) {
	samples := make(value.Array, 500)
	for i := range samples {
		samples[i] = value.Float(math.Sqrt(float64(i) + 0.123))
	}
	v := value.Obj(value.M("sensor", value.String("imu")), value.M("samples", samples))

	buf, err := Encode(v)
	require.NoError(t, err)
	assert.Less(t, len(buf), len(value.Format(v)))
}

func TestEncodeDecode_ThousandFields(t *testing.T) {
	obj := make(value.Object, 1000)
	for i := range obj {
		obj[i] = value.M(fmt.Sprintf("field_%04d", i), value.Float(float64(i)*1.5))
	}

	best := time.Duration(math.MaxInt64)
	var got value.Value
	for range 5 {
		start := time.Now()
		buf, err := Encode(obj)
		require.NoError(t, err)
		got, err = Decode(buf)
		require.NoError(t, err)
		if d := time.Since(start); d < best {
			best = d
		}
	}
	assert.True(t, value.Equal(obj, got))
	assert.Less(t, best, 10*time.Millisecond)
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		v      value.Value
		reason Reason
		path   string
	}{
		{"nil root", nil, ReasonNilValue, "$"},
		{"nil member", value.Obj(value.M("a", value.Arr(value.Int(1), nil))), ReasonNilValue, "$.a[1]"},
		{"bad utf8", value.Arr(value.String("ok"), value.String("\xff")), ReasonUTF8, "$[1]"},
		{"bad key", value.Obj(value.M("\xfe", value.Null{})), ReasonUTF8, "$.\xfe"},
		{"too deep", nested(MaxDepth + 1), ReasonDepth, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.v)
			require.Error(t, err)
			var ee *EncodeError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.reason, ee.Reason)
			if tt.path != "" {
				assert.Equal(t, tt.path, ee.Path)
			}
		})
	}
}

func TestEncode_HashCollisionFallsBackToInlineName(t *testing.T) {
	v := value.Obj(
		value.M("x", value.Int(1)),
		value.M("y", value.String("inline")),
		value.M("w", value.Arr(value.Bool(true))),
		value.M("n", value.Null{}),
	)
	e := &encoder{
		hashes:   make(map[uint64]string),
		collided: map[string]bool{"y": true, "w": true, "n": true},
	}
	buf, err := e.encode(v)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, value.Equal(v, got), "got %s", value.Format(got))
}

func TestDecode_Rejects(t *testing.T) {
	good := MustEncode(value.Obj(value.M("x", value.Int(1)), value.M("s", value.String("abc"))))

	mutate := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name   string
		buf    []byte
		reason Reason
	}{
		{"empty", nil, ReasonTruncated},
		{"short", good[:10], ReasonTruncated},
		{"bad magic", mutate(func(b []byte) []byte { b[0] = 'X'; return b }), ReasonMagic},
		{"future major", mutate(func(b []byte) []byte { b[4] = MajorVersion + 1; return b }), ReasonVersion},
		{"truncated body", good[:len(good)-1], ReasonLength},
		{"trailing bytes", append(append([]byte(nil), good...), 0), ReasonLength},
		{"field count", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[8:], 2)
			return b
		}), ReasonCount},
		{"root tag", mutate(func(b []byte) []byte { b[6] = tagArray; return b }), ReasonTag},
		{"region offset", mutate(func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[HeaderSize+10:], uint32(len(b)))
			return b
		}), ReasonBounds},
		{"unknown flag", mutate(func(b []byte) []byte { b[HeaderSize+9] = 0x80; return b }), ReasonFlags},
		{"unknown name", mutate(func(b []byte) []byte {
			// the first name is "x", right after the name count and its length
			b[HeaderSize+DescriptorSize+8] = 'q'
			return b
		}), ReasonUnknownName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.buf)
			require.Error(t, err)
			require.True(t, IsDecodeError(err), "got %T", err)
			assert.Equal(t, tt.reason, DecodeReason(err), err.Error())
		})
	}
}

func TestDecode_EveryPrefixFails(t *testing.T) {
	buf := MustEncode(value.Obj(value.M("a", value.Arr(value.String("b"), value.NodeRef("/c")))))
	for n := 0; n < len(buf); n++ {
		_, err := Decode(buf[:n])
		require.Error(t, err, "prefix %d", n)
		assert.True(t, IsDecodeError(err))
	}
}

func TestDecode_BitFlipsNeverPanic(t *testing.T) {
	buf := MustEncode(value.Obj(
		value.M("a", value.Arr(value.String("b"), value.Arr(value.Int(1), value.Int(2)), value.Obj(value.M("c", value.NodeRef("/d"))))),
		value.M("f", value.Float(math.NaN())),
	))
	for i := range buf {
		for _, mask := range []byte{0x01, 0x80, 0xff} {
			b := append([]byte(nil), buf...)
			b[i] ^= mask
			assert.NotPanics(t, func() {
				_, err := Decode(b)
				if err != nil {
					assert.True(t, IsDecodeError(err))
				}
			}, "byte %d mask %#x", i, mask)
		}
	}
}

func TestDecode_SelfReferenceBounded(t *testing.T) {
	buf := MustEncode(value.Arr(value.Arr(value.Null{})))

	// Point the inner array descriptor back at the outer block.
	rootOff := binary.LittleEndian.Uint32(buf[HeaderSize+10:])
	inner := int(rootOff) + 4
	copy(buf[inner+10:inner+14], buf[HeaderSize+10:HeaderSize+14])
	copy(buf[inner+14:inner+18], buf[HeaderSize+14:HeaderSize+18])

	_, err := Decode(buf)
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}

func BenchmarkEncodeThousandFields(b *testing.B) {
	obj := make(value.Object, 1000)
	for i := range obj {
		obj[i] = value.M(fmt.Sprintf("field_%04d", i), value.Int(int64(i)))
	}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := Encode(obj); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeThousandFields(b *testing.B) {
	obj := make(value.Object, 1000)
	for i := range obj {
		obj[i] = value.M(fmt.Sprintf("field_%04d", i), value.Int(int64(i)))
	}
	buf := MustEncode(obj)
	b.ReportAllocs()
	for b.Loop() {
		if _, err := Decode(buf); err != nil {
			b.Fatal(err)
		}
	}
}

package literal

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxd/internal/value"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want value.Value
	}{
		{"null", "null", value.Null{}},
		{"bool", "true", value.Bool(true)},
		{"int", "42", value.Int(42)},
		{"negative", "-7", value.Int(-7)},
		{"uint overflow", "18446744073709551615", value.Uint(math.MaxUint64)},
		{"float", "1.5", value.Float(1.5)},
		{"string", `"héllo"`, value.String("héllo")},
		{"list", "[1, 2, 3]", value.Arr(value.Int(1), value.Int(2), value.Int(3))},
		{"empty list", "[]", value.Array{}},
		{"empty struct", "{}", value.Object{}},
		{
			"struct keeps field order",
			`{w: 640, h: 480, "with space": true}`,
			value.Obj(
				value.M("w", value.Int(640)),
				value.M("h", value.Int(480)),
				value.M("with space", value.Bool(true)),
			),
		},
		{"node ref", `{"$ref": "root/b"}`, value.NodeRef("root/b")},
		{
			"ref with siblings stays an object",
			`{"$ref": "root/b", x: 1}`,
			value.Obj(value.M("$ref", value.String("root/b")), value.M("x", value.Int(1))),
		},
		{
			"nested",
			`{size: {w: 1}, tags: ["a"]}`,
			value.Obj(
				value.M("size", value.Obj(value.M("w", value.Int(1)))),
				value.M("tags", value.Arr(value.String("a"))),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.src)
			require.NoError(t, err)
			assert.True(t, value.Equal(tt.want, got), "want %s, got %s", value.Format(tt.want), value.Format(got))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, src := range []string{
		"{",
		"int",
		"{x: string}",
		"1 & 2",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			assert.Error(t, err)
		})
	}
}

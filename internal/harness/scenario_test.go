package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/replay_then_live.yaml")
	require.NoError(t, err)
	assert.Equal(t, "replay_then_live", s.Name)
	require.Len(t, s.Steps, 5)
	require.NotNil(t, s.Steps[2].Subscribe)
	require.NotNil(t, s.Steps[2].Subscribe.ReplayFrom)
	assert.Equal(t, uint64(1), *s.Steps[2].Subscribe.ReplayFrom)
	assert.Equal(t, `{"$ref": "root/c"}`, s.Steps[4].Emit.Value)
	require.Len(t, s.Assertions, 2)
	assert.Equal(t, []uint64{1, 3}, s.Assertions[0].Seqs)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestParseScenario_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "name: x\ndescription: d\nstepz: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{reopen: true}]\nassertions: [{type: handler_errors}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			yaml: "name: x\nsteps: [{reopen: true}]\nassertions: [{type: handler_errors}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			yaml: "name: x\ndescription: d\nassertions: [{type: handler_errors}]\n",
			want: "steps list is required",
		},
		{
			name: "no assertions",
			yaml: "name: x\ndescription: d\nsteps: [{reopen: true}]\n",
			want: "assertions list is required",
		},
		{
			name: "two operations in one step",
			yaml: "name: x\ndescription: d\nsteps: [{reopen: true, tear: 3}]\nassertions: [{type: handler_errors}]\n",
			want: "exactly one operation",
		},
		{
			name: "empty step",
			yaml: "name: x\ndescription: d\nsteps: [{}]\nassertions: [{type: handler_errors}]\n",
			want: "exactly one operation",
		},
		{
			name: "bad kind",
			yaml: "name: x\ndescription: d\nsteps: [{emit: {kind: boom, node: a}}]\nassertions: [{type: handler_errors}]\n",
			want: "steps[0].emit",
		},
		{
			name: "bad value",
			yaml: "name: x\ndescription: d\nsteps: [{emit: {kind: value_changed, node: a, value: \"{\"}}]\nassertions: [{type: handler_errors}]\n",
			want: "steps[0].emit",
		},
		{
			name: "duplicate subscriber",
			yaml: "name: x\ndescription: d\nsteps: [{subscribe: {id: a}}, {subscribe: {id: a}}]\nassertions: [{type: handler_errors}]\n",
			want: "duplicate id",
		},
		{
			name: "unsubscribe unknown",
			yaml: "name: x\ndescription: d\nsteps: [{unsubscribe: ghost}]\nassertions: [{type: handler_errors}]\n",
			want: "unknown subscriber",
		},
		{
			name: "assert unknown subscriber",
			yaml: "name: x\ndescription: d\nsteps: [{reopen: true}]\nassertions: [{type: delivered, subscriber: ghost}]\n",
			want: "unknown subscriber",
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: d\nsteps: [{reopen: true}]\nassertions: [{type: vibes}]\n",
			want: "unknown assertion type",
		},
		{
			name: "bad range",
			yaml: "name: x\ndescription: d\nsteps: [{reopen: true}]\nassertions: [{type: log_range, first: 3, next: 2}]\n",
			want: "log_range",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, s.Name, "scenario name must match its file")

			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/failing_subscriber_isolated.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FailedAssertions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong_expectations
description: "Expectations that do not hold"
steps:
  - subscribe: {id: ui}
  - emit: {kind: value_changed, node: a, value: "1"}
  - emit: {kind: value_changed, node: a, value: "2"}
assertions:
  - type: delivered
    subscriber: ui
    seqs: [2, 1]
  - type: delivered_count
    subscriber: ui
    count: 2
  - type: handler_errors
    count: 1
  - type: log_range
    first: 1
    next: 10
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "Assertion failed: delivered")
	assert.Contains(t, result.Errors[0], "Actual: [1 2]")
	assert.Contains(t, result.Errors[0], "Full trace:")
	assert.Contains(t, result.Errors[1], "handler_errors")
	assert.Contains(t, result.Errors[2], "[1, 3)")
}

func TestRun_ReopenDropsSubscriptions(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: reopen
description: "Subscriptions end when the process restarts"
steps:
  - subscribe: {id: ui}
  - emit: {kind: child_added, node: root, value: '{"$ref": "root/x"}'}
  - reopen: true
  - emit: {kind: child_removed, node: root, value: '{"$ref": "root/x"}'}
  - unsubscribe: ui
assertions:
  - type: delivered
    subscriber: ui
    seqs: [1]
  - type: log_range
    first: 1
    next: 3
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))

	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, EventUnsubscribe, last.Type)
	assert.Equal(t, "not registered", last.Detail)

	var recovers []TraceEvent
	for _, ev := range result.Trace {
		if ev.Type == EventRecover {
			recovers = append(recovers, ev)
		}
	}
	require.Len(t, recovers, 2)
	assert.Equal(t, "recovered 1 records", recovers[1].Detail)
	assert.Equal(t, uint64(2), recovers[1].Seq)
}

func TestRun_ZeroTailBufferStillClosesGap(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: no_tail
description: "Replay works without the in-memory tail"
tail_buffer: 0
steps:
  - emit: {kind: value_changed, node: a}
  - emit: {kind: value_changed, node: a}
  - subscribe: {id: r, replay_from: 2}
  - emit: {kind: value_changed, node: a}
assertions:
  - type: delivered
    subscriber: r
    seqs: [2, 3]
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Equal(t, "null", result.Trace[1].Value)
}

func TestRun_TearEverythingStartsOver(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: tear_all
description: "A log cut below its header is reinitialized"
steps:
  - emit: {kind: value_changed, node: a}
  - tear: 100000
  - subscribe: {id: r, replay_from: 1}
  - emit: {kind: value_changed, node: b}
assertions:
  - type: delivered
    subscriber: r
    seqs: [1]
  - type: log_range
    first: 1
    next: 2
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

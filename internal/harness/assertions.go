package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s", i+1, ev.Type)
		if ev.Subscriber != "" {
			fmt.Fprintf(&buf, " %s", ev.Subscriber)
		}
		if ev.Seq != 0 {
			fmt.Fprintf(&buf, " seq=%d", ev.Seq)
		}
		if ev.Kind != "" {
			fmt.Fprintf(&buf, " %s %s %s", ev.Kind, ev.Node, ev.Value)
		}
		if ev.Detail != "" {
			fmt.Fprintf(&buf, " (%s)", ev.Detail)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Trace: result.Trace}
	}

	switch a.Type {
	case AssertDelivered:
		got := result.Deliveries[a.Subscriber]
		want := a.Seqs
		if want == nil {
			want = []uint64{}
		}
		if !slices.Equal(got, want) {
			return fail(fmt.Sprintf("%s receives %v", a.Subscriber, want), fmt.Sprintf("%v", got))
		}
	case AssertDeliveredCount:
		if got := len(result.Deliveries[a.Subscriber]); got != a.Count {
			return fail(fmt.Sprintf("%s receives %d signals", a.Subscriber, a.Count), fmt.Sprintf("%d", got))
		}
	case AssertLogRange:
		if result.FirstSeq != a.First || result.NextSeq != a.Next {
			return fail(fmt.Sprintf("log holds [%d, %d)", a.First, a.Next),
				fmt.Sprintf("[%d, %d)", result.FirstSeq, result.NextSeq))
		}
	case AssertHandlerErrors:
		if result.HandlerErrors != a.Count {
			return fail(fmt.Sprintf("%d handler errors", a.Count), fmt.Sprintf("%d", result.HandlerErrors))
		}
	default:
		return fail("a known assertion type", a.Type)
	}
	return nil
}

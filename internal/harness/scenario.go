package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fxd/internal/literal"
	"github.com/roach88/fxd/internal/signal"
)

// Scenario is a scripted sequence of bus and log operations with
// assertions over what subscribers received.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TailBuffer overrides the bus tail buffer size. Nil keeps the default.
	TailBuffer *int `yaml:"tail_buffer,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation. Exactly one field is set.
type Step struct {
	Emit        *EmitStep      `yaml:"emit,omitempty"`
	Subscribe   *SubscribeStep `yaml:"subscribe,omitempty"`
	Unsubscribe string         `yaml:"unsubscribe,omitempty"`
	Compact     *CompactStep   `yaml:"compact,omitempty"`
	// Reopen closes the log and recovers it as a fresh process would.
	// Subscriptions do not survive.
	Reopen bool `yaml:"reopen,omitempty"`
	// Tear cuts this many bytes off the end of the log, then reopens.
	Tear int `yaml:"tear,omitempty"`
}

// EmitStep emits one signal. Value is a CUE literal; empty means null.
type EmitStep struct {
	Kind  string `yaml:"kind"`
	Node  string `yaml:"node"`
	Value string `yaml:"value,omitempty"`
}

// SubscribeStep registers a recording subscriber under ID.
type SubscribeStep struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind,omitempty"`
	Node string `yaml:"node,omitempty"`
	// ReplayFrom selects Replay mode starting at this sequence. Nil means
	// Tail.
	ReplayFrom *uint64 `yaml:"replay_from,omitempty"`
	// Fail makes the handler return an error for every signal.
	Fail bool `yaml:"fail,omitempty"`
}

// CompactStep compacts the log up to KeepFrom.
type CompactStep struct {
	KeepFrom uint64 `yaml:"keep_from"`
}

// Assertion validates the result of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Subscriber names a SubscribeStep ID (delivered, delivered_count).
	Subscriber string `yaml:"subscriber,omitempty"`

	// Seqs is the exact delivery order (delivered).
	Seqs []uint64 `yaml:"seqs,omitempty"`

	// Count is an expected number (delivered_count, handler_errors).
	Count int `yaml:"count,omitempty"`

	// First and Next bound the retained log (log_range).
	First uint64 `yaml:"first,omitempty"`
	Next  uint64 `yaml:"next,omitempty"`
}

// Assertion type constants.
const (
	AssertDelivered      = "delivered"
	AssertDeliveredCount = "delivered_count"
	AssertLogRange       = "log_range"
	AssertHandlerErrors  = "handler_errors"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.TailBuffer != nil && *s.TailBuffer < 0 {
		return fmt.Errorf("tail_buffer must be non-negative")
	}

	ids := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, step, ids); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, ids); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, ids map[string]bool) error {
	set := 0
	for _, ok := range []bool{
		step.Emit != nil,
		step.Subscribe != nil,
		step.Unsubscribe != "",
		step.Compact != nil,
		step.Reopen,
		step.Tear != 0,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, set)
	}

	switch {
	case step.Emit != nil:
		if _, err := signal.ParseKind(step.Emit.Kind); err != nil {
			return fmt.Errorf("steps[%d].emit: %w", i, err)
		}
		if step.Emit.Node == "" {
			return fmt.Errorf("steps[%d].emit: node is required", i)
		}
		if step.Emit.Value != "" {
			if _, err := literal.Parse(step.Emit.Value); err != nil {
				return fmt.Errorf("steps[%d].emit: %w", i, err)
			}
		}
	case step.Subscribe != nil:
		sub := step.Subscribe
		if sub.ID == "" {
			return fmt.Errorf("steps[%d].subscribe: id is required", i)
		}
		if ids[sub.ID] {
			return fmt.Errorf("steps[%d].subscribe: duplicate id %q", i, sub.ID)
		}
		ids[sub.ID] = true
		if sub.Kind != "" {
			if _, err := signal.ParseKind(sub.Kind); err != nil {
				return fmt.Errorf("steps[%d].subscribe: %w", i, err)
			}
		}
	case step.Unsubscribe != "":
		if !ids[step.Unsubscribe] {
			return fmt.Errorf("steps[%d].unsubscribe: unknown subscriber %q", i, step.Unsubscribe)
		}
	case step.Tear < 0:
		return fmt.Errorf("steps[%d].tear: must be positive", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, ids map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertDelivered, AssertDeliveredCount:
		if !ids[a.Subscriber] {
			return fmt.Errorf("assertions[%d]: unknown subscriber %q", index, a.Subscriber)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertLogRange:
		if a.First == 0 || a.Next < a.First {
			return fmt.Errorf("assertions[%d]: log_range needs 1 <= first <= next", index)
		}
	case AssertHandlerErrors:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

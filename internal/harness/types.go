package harness

// Trace event types.
const (
	EventEmit        = "emit"
	EventDeliver     = "deliver"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventCompact     = "compact"
	EventTear        = "tear"
	EventRecover     = "recover"
)

// TraceEvent is one observable effect of a scenario, in the order it
// happened.
type TraceEvent struct {
	Type       string `json:"type"`
	Seq        uint64 `json:"seq,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Node       string `json:"node,omitempty"`
	Value      string `json:"value,omitempty"`
	Subscriber string `json:"subscriber,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Deliveries maps subscriber IDs to the sequences they received.
	Deliveries map[string][]uint64 `json:"deliveries"`

	// HandlerErrors counts handler failures across every bus the
	// scenario created.
	HandlerErrors int `json:"handler_errors"`

	// FirstSeq and NextSeq describe the log after the last step.
	FirstSeq uint64 `json:"first_seq"`
	NextSeq  uint64 `json:"next_seq"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Trace:      []TraceEvent{},
		Errors:     []string{},
		Deliveries: make(map[string][]uint64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

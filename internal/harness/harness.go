package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/fxd/internal/literal"
	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/testutil"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

var errHandler = errors.New("scripted handler failure")

// Harness runs one scenario against an in-memory log.
type Harness struct {
	scenario *Scenario
	storage  *wal.MemoryStorage
	log      *wal.Log
	bus      *signal.Bus
	clock    *testutil.DeterministicClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger
	subs     map[string]*signal.Subscription
	result   *Result
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs on fresh in-memory storage with a deterministic clock
// and subscription IDs, so traces are identical across runs. An error is
// returned when a step cannot run at all; failed assertions are reported
// in the result.
func Run(scenario *Scenario) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		storage:  wal.NewMemoryStorage(),
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequentialIDs("sub"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		subs:     make(map[string]*signal.Subscription),
		result:   NewResult(),
	}
	ctx := context.Background()

	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = h.log.Close() }()

	for i, step := range scenario.Steps {
		if err := h.step(ctx, step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	st := h.log.Stats()
	h.result.FirstSeq, h.result.NextSeq = st.FirstSeq, st.NextSeq
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// open opens and recovers the log and starts a new bus over it.
func (h *Harness) open(ctx context.Context) error {
	l, err := wal.Open(h.storage, wal.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	rep, err := l.Recover(ctx)
	if err != nil {
		l.Close()
		return fmt.Errorf("recover log: %w", err)
	}
	h.log = l

	opts := []signal.Option{
		signal.WithLogger(h.logger),
		signal.WithClock(h.clock),
		signal.WithIDGenerator(h.ids),
		signal.WithErrorHandler(func(*signal.SubscriptionError) { h.result.HandlerErrors++ }),
	}
	if h.scenario.TailBuffer != nil {
		opts = append(opts, signal.WithTailBuffer(*h.scenario.TailBuffer))
	}
	h.bus = signal.New(l, opts...)
	h.subs = make(map[string]*signal.Subscription)

	detail := fmt.Sprintf("recovered %d records", rep.Recovered)
	if rep.TruncatedBytes > 0 {
		detail += ", truncated torn tail"
	}
	h.result.add(TraceEvent{Type: EventRecover, Seq: l.NextSeq(), Detail: detail})
	return nil
}

func (h *Harness) step(ctx context.Context, step Step) error {
	switch {
	case step.Emit != nil:
		return h.emit(ctx, step.Emit)
	case step.Subscribe != nil:
		return h.subscribe(ctx, step.Subscribe)
	case step.Unsubscribe != "":
		detail := "not registered"
		if s, ok := h.subs[step.Unsubscribe]; ok && s.Unsubscribe() {
			detail = ""
		}
		delete(h.subs, step.Unsubscribe)
		h.result.add(TraceEvent{Type: EventUnsubscribe, Subscriber: step.Unsubscribe, Detail: detail})
		return nil
	case step.Compact != nil:
		res, err := h.log.Compact(ctx, step.Compact.KeepFrom)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}
		h.result.add(TraceEvent{
			Type:   EventCompact,
			Seq:    res.KeepFrom,
			Detail: fmt.Sprintf("removed %d records", res.RemovedRecords),
		})
		return nil
	case step.Reopen:
		if err := h.log.Close(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
		return h.open(ctx)
	case step.Tear > 0:
		if err := h.log.Close(); err != nil {
			return fmt.Errorf("close: %w", err)
		}
		n := step.Tear
		h.storage.Mutate(func(b []byte) []byte { return b[:max(len(b)-n, 0)] })
		h.result.add(TraceEvent{Type: EventTear, Detail: fmt.Sprintf("cut %d bytes", n)})
		return h.open(ctx)
	}
	return errors.New("empty step")
}

func (h *Harness) emit(ctx context.Context, e *EmitStep) error {
	kind, err := signal.ParseKind(e.Kind)
	if err != nil {
		return err
	}
	var v value.Value = value.Null{}
	if e.Value != "" {
		if v, err = literal.Parse(e.Value); err != nil {
			return err
		}
	}
	// The emit event is recorded before dispatch so deliveries follow it.
	idx := len(h.result.Trace)
	h.result.add(TraceEvent{Type: EventEmit, Kind: kind.String(), Node: e.Node, Value: value.Format(v)})
	seq, err := h.bus.Emit(ctx, kind, e.Node, v)
	if err != nil {
		return fmt.Errorf("emit: %w", err)
	}
	h.result.Trace[idx].Seq = seq
	return nil
}

func (h *Harness) subscribe(ctx context.Context, s *SubscribeStep) error {
	filter := signal.MatchAll()
	if s.Kind != "" {
		kind, err := signal.ParseKind(s.Kind)
		if err != nil {
			return err
		}
		filter = filter.AndKind(kind)
	}
	if s.Node != "" {
		filter = filter.AndNode(s.Node)
	}
	mode, detail := signal.Tail(), "tail"
	if s.ReplayFrom != nil {
		mode, detail = signal.Replay(wal.Cursor(*s.ReplayFrom)), fmt.Sprintf("replay from %d", *s.ReplayFrom)
	}

	id := s.ID
	h.result.Deliveries[id] = []uint64{}
	h.result.add(TraceEvent{Type: EventSubscribe, Subscriber: id, Detail: detail})
	handler := func(sig signal.Signal) error {
		h.result.Deliveries[id] = append(h.result.Deliveries[id], sig.Seq)
		h.result.add(TraceEvent{Type: EventDeliver, Subscriber: id, Seq: sig.Seq})
		if s.Fail {
			return errHandler
		}
		return nil
	}
	sub, err := h.bus.Subscribe(ctx, filter, handler, mode)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", id, err)
	}
	h.subs[id] = sub
	return nil
}

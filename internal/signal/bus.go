package signal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

// ErrInvalidKind is returned by Emit for an unknown or untagged kind.
var ErrInvalidKind = errors.New("signal: invalid kind")

// Journal is the durable log the bus writes to. *wal.Log implements it.
type Journal interface {
	Append(ctx context.Context, kind uint8, v value.Value) (uint64, error)
	ReadFrom(cursor wal.Cursor) (*wal.Iterator, error)
}

// Handler receives matching signals. A returned error is recorded as a
// *SubscriptionError and does not stop delivery to other subscribers.
type Handler func(Signal) error

// Mode selects where a subscription starts.
type Mode struct {
	replay bool
	from   wal.Cursor
}

// Tail delivers only signals emitted after Subscribe returns.
func Tail() Mode { return Mode{} }

// Replay first delivers every durable matching signal with sequence >=
// from, then continues with live signals.
func Replay(from wal.Cursor) Mode { return Mode{replay: true, from: from} }

// IsReplay reports whether m is a Replay mode.
func (m Mode) IsReplay() bool { return m.replay }

// Subscription is a registered handler. It is owned by the bus until
// unsubscribed.
type Subscription struct {
	id      string
	filter  Filter
	handler Handler
	bus     *Bus

	removed   atomic.Bool
	delivered atomic.Uint64
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() string { return s.id }

// Filter returns the subscription's filter.
func (s *Subscription) Filter() Filter { return s.filter }

// Delivered returns how many signals the handler has been given.
func (s *Subscription) Delivered() uint64 { return s.delivered.Load() }

// Unsubscribe removes the subscription from its bus.
func (s *Subscription) Unsubscribe() bool { return s.bus.Unsubscribe(s) }

// Bus persists signals to a Journal and dispatches them to subscribers.
//
// Dispatch is synchronous: Emit returns after every matching handler has
// run, in registration order. A slow handler therefore delays the emitter
// and every later Emit. Handlers must not call Emit, or Subscribe with
// Replay, on the same bus; both wait for the dispatch in progress and
// would deadlock.
type Bus struct {
	log  Journal
	opts options

	// emitMu serializes append and dispatch. It also guards tail and
	// lastSeq.
	emitMu  sync.Mutex
	tail    ring
	lastSeq uint64

	// mu guards subs and pending. subs is copy-on-write so dispatch
	// iterates a snapshot without holding mu.
	mu      sync.RWMutex
	subs    []*Subscription
	pending map[*Subscription]*atomic.Uint64

	statsMu       sync.Mutex
	totalEmitted  uint64
	perKind       map[string]uint64
	handlerErrors atomic.Uint64
}

// New returns a bus writing to log.
func New(log Journal, opts ...Option) *Bus {
	o := options{
		logger:     slog.Default(),
		clock:      systemClock{},
		ids:        UUIDv7Generator{},
		tailBuffer: DefaultTailBuffer,
		metrics:    NoopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus{
		log:     log,
		opts:    o,
		tail:    newRing(o.tailBuffer),
		pending: make(map[*Subscription]*atomic.Uint64),
		perKind: make(map[string]uint64),
	}
}

// Emit appends a signal and dispatches it. It returns the assigned
// sequence. Only a failed append is an error; handler failures are
// reported through logging, Stats and the error handler.
func (b *Bus) Emit(ctx context.Context, kind Kind, nodeID string, v value.Value) (uint64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	if v == nil {
		v = value.Null{}
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	start := time.Now()
	ts := normalizeTime(b.opts.clock.Now())
	seq, err := b.log.Append(ctx, uint8(kind.Base), envelope(kind, nodeID, ts, v))
	if err != nil {
		return 0, fmt.Errorf("signal: emit %s on %q: %w", kind, nodeID, err)
	}
	sig := Signal{Seq: seq, Kind: kind, NodeID: nodeID, Timestamp: ts, Value: v}
	b.lastSeq = seq
	b.tail.push(sig)

	name := kind.String()
	b.statsMu.Lock()
	b.totalEmitted++
	b.perKind[name]++
	b.statsMu.Unlock()

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		b.deliver(s, sig)
	}

	b.opts.metrics.ObserveEmit(name, time.Since(start))
	return seq, nil
}

// OnMutation emits a signal for a node-graph change.
func (b *Bus) OnMutation(ctx context.Context, m Mutation) error {
	_, err := b.Emit(ctx, m.Kind, m.NodeID, m.Value)
	return err
}

// deliver runs the handler if s is still registered and its filter
// matches.
func (b *Bus) deliver(s *Subscription, sig Signal) {
	if s.removed.Load() || !s.filter.Matches(sig) {
		return
	}
	s.delivered.Add(1)
	se := s.call(sig)
	if se == nil {
		return
	}
	b.handlerErrors.Add(1)
	b.opts.logger.Warn("subscriber failed",
		"subscription", s.id,
		"seq", sig.Seq,
		"kind", sig.Kind.String(),
		"node", sig.NodeID,
		"error", se)
	b.opts.metrics.ObserveHandlerError(sig.Kind.String())
	if b.opts.onError != nil {
		b.opts.onError(se)
	}
}

func (s *Subscription) call(sig Signal) (se *SubscriptionError) {
	defer func() {
		if r := recover(); r != nil {
			se = &SubscriptionError{SubscriptionID: s.id, Seq: sig.Seq, Panic: r}
		}
	}()
	if err := s.handler(sig); err != nil {
		return &SubscriptionError{SubscriptionID: s.id, Seq: sig.Seq, Err: err}
	}
	return nil
}

// Subscribe registers handler for signals matching filter.
//
// With Tail the subscription sees signals from the next Emit on. With
// Replay, Subscribe first reads the log from the cursor and delivers every
// match without holding up emitters, then takes the emit lock, delivers
// whatever was emitted meanwhile (from the in-memory tail when it reaches
// back far enough, else from the log) and joins live dispatch. Every
// signal is delivered exactly once and in sequence order. If ctx is
// cancelled during catch-up, nothing is registered.
func (b *Bus) Subscribe(ctx context.Context, filter Filter, handler Handler, mode Mode) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("signal: subscribe: nil handler")
	}
	s := &Subscription{id: b.opts.ids.Generate(), filter: filter, handler: handler, bus: b}

	if !mode.replay {
		b.register(s)
		b.opts.logger.Debug("subscribed", "subscription", s.id, "filter", filter.String(), "mode", "tail")
		return s, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pos := new(atomic.Uint64)
	pos.Store(uint64(mode.from))
	b.mu.Lock()
	b.pending[s] = pos
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, s)
		b.mu.Unlock()
	}()

	next, err := b.catchUp(ctx, s, mode.from, pos)
	if err != nil {
		return nil, err
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	if next <= b.lastSeq {
		if b.tail.covers(next) {
			for sig := range b.tail.since(next) {
				b.deliver(s, sig)
			}
		} else if _, err := b.catchUp(ctx, s, wal.Cursor(next), pos); err != nil {
			return nil, err
		}
	}
	if s.removed.Load() {
		return s, nil
	}
	b.register(s)
	b.opts.logger.Debug("subscribed",
		"subscription", s.id,
		"filter", filter.String(),
		"mode", "replay",
		"from", uint64(mode.from))
	return s, nil
}

// catchUp delivers matching signals from the log starting at from and
// returns the sequence after the last record read.
func (b *Bus) catchUp(ctx context.Context, s *Subscription, from wal.Cursor, pos *atomic.Uint64) (uint64, error) {
	next := uint64(from)
	n := 0
	for sig, err := range b.Replay(from, MatchAll()) {
		if err != nil {
			return 0, fmt.Errorf("signal: replay for %s: %w", s.id, err)
		}
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		n++
		b.deliver(s, sig)
		next = sig.Seq + 1
		pos.Store(next)
		if s.removed.Load() {
			break
		}
	}
	return next, nil
}

func (b *Bus) register(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := make([]*Subscription, len(b.subs), len(b.subs)+1)
	copy(subs, b.subs)
	b.subs = append(subs, s)
}

// Unsubscribe removes s from all future dispatch. A handler call already
// running for s finishes normally. It reports whether s was registered.
func (b *Bus) Unsubscribe(s *Subscription) bool {
	if s == nil || s.bus != b {
		return false
	}
	already := s.removed.Swap(true)

	b.mu.Lock()
	defer b.mu.Unlock()
	i := slices.Index(b.subs, s)
	if i < 0 {
		return !already && b.pending[s] != nil
	}
	b.subs = slices.Delete(slices.Clone(b.subs), i, i+1)
	b.opts.logger.Debug("unsubscribed", "subscription", s.id)
	return true
}

// Replay returns the durable signals with sequence >= from that match
// filter. The sequence is lazy and ends at the log's committed end as of
// the first pull.
func (b *Bus) Replay(from wal.Cursor, filter Filter) iter.Seq2[Signal, error] {
	return func(yield func(Signal, error) bool) {
		it, err := b.log.ReadFrom(from)
		if err != nil {
			yield(Signal{}, err)
			return
		}
		defer it.Close()
		for it.Next() {
			sig, err := Decode(it.Record())
			if err != nil {
				yield(Signal{}, err)
				return
			}
			if !filter.Matches(sig) {
				continue
			}
			if !yield(sig, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Signal{}, err)
		}
	}
}

// Stats is a snapshot of bus counters.
type Stats struct {
	TotalEmitted    uint64
	PerKind         map[string]uint64
	SubscriberCount int
	Replaying       int
	HandlerErrors   uint64
}

// Stats returns emit and subscriber counters since the bus was created.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	perKind := make(map[string]uint64, len(b.perKind))
	for k, v := range b.perKind {
		perKind[k] = v
	}
	total := b.totalEmitted
	b.statsMu.Unlock()

	b.mu.RLock()
	subs, replaying := len(b.subs), len(b.pending)
	b.mu.RUnlock()

	return Stats{
		TotalEmitted:    total,
		PerKind:         perKind,
		SubscriberCount: subs,
		Replaying:       replaying,
		HandlerErrors:   b.handlerErrors.Load(),
	}
}

// LowWatermark returns the lowest sequence a subscriber still needs.
//
// Live subscribers have seen everything emitted, so only subscriptions
// that are still replaying hold records back. ok is false when no
// subscriber constrains compaction.
func (b *Bus) LowWatermark(ctx context.Context) (wal.Cursor, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.pending) == 0 {
		return 0, false, nil
	}
	low := uint64(0)
	first := true
	for _, pos := range b.pending {
		if p := pos.Load(); first || p < low {
			low, first = p, false
		}
	}
	return wal.Cursor(low), true, nil
}

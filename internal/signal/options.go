package signal

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Clock supplies signal timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// IDGenerator names subscriptions.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 subscription IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7. It panics if the system random
// source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// MetricsHook receives bus events. It is called on the emitting goroutine.
type MetricsHook interface {
	ObserveEmit(kind string, d time.Duration)
	ObserveHandlerError(kind string)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveEmit(string, time.Duration) {}
func (NoopMetrics) ObserveHandlerError(string)        {}

// SubscriptionError reports a handler that returned an error or panicked.
// Delivery to other subscribers is unaffected.
type SubscriptionError struct {
	SubscriptionID string
	Seq            uint64
	Err            error
	// Panic holds the recovered value when the handler panicked.
	Panic any
}

func (e *SubscriptionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("signal: subscriber %s panicked on seq %d: %v", e.SubscriptionID, e.Seq, e.Panic)
	}
	return fmt.Sprintf("signal: subscriber %s failed on seq %d: %v", e.SubscriptionID, e.Seq, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// DefaultTailBuffer is the number of recent signals kept in memory.
const DefaultTailBuffer = 1024

type options struct {
	logger     *slog.Logger
	clock      Clock
	ids        IDGenerator
	tailBuffer int
	metrics    MetricsHook
	onError    func(*SubscriptionError)
}

// Option configures a Bus.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator sets how subscriptions are named.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithTailBuffer sets how many recent signals stay in memory for replay
// subscribers joining live dispatch. Zero disables the buffer.
func WithTailBuffer(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.tailBuffer = n
		}
	}
}

// WithMetrics installs a metrics hook.
func WithMetrics(m MetricsHook) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithErrorHandler is called with every handler failure, after it is
// logged and counted. It runs on the emitting goroutine.
func WithErrorHandler(fn func(*SubscriptionError)) Option {
	return func(o *options) { o.onError = fn }
}

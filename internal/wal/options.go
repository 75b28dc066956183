package wal

import (
	"log/slog"
	"time"
)

// SyncMode controls when appends are fsynced.
type SyncMode int

const (
	// SyncAlways fsyncs every append before it returns.
	SyncAlways SyncMode = iota
	// SyncNever leaves flushing to the OS. A crash may lose the newest
	// records; recovery still cuts the log at the last intact frame.
	SyncNever
)

// ParseSyncMode maps "always" and "never" to a SyncMode.
func ParseSyncMode(s string) (SyncMode, bool) {
	switch s {
	case "", "always":
		return SyncAlways, true
	case "never":
		return SyncNever, true
	}
	return SyncAlways, false
}

// MetricsHook receives log events. Implementations must be cheap and
// must not call back into the log.
type MetricsHook interface {
	ObserveAppend(bytes int, d time.Duration)
	ObserveRecovery(r RecoveryReport)
	ObserveCompaction(r CompactionResult)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) ObserveAppend(int, time.Duration)   {}
func (NoopMetrics) ObserveRecovery(RecoveryReport)     {}
func (NoopMetrics) ObserveCompaction(CompactionResult) {}

type options struct {
	logger         *slog.Logger
	sync           SyncMode
	maxRecordBytes int
	indexInterval  int
	metrics        MetricsHook
	archiver       Archiver
}

func defaultOptions() options {
	return options{
		logger:         slog.Default(),
		sync:           SyncAlways,
		maxRecordBytes: DefaultMaxRecordBytes,
		indexInterval:  64,
		metrics:        NoopMetrics{},
	}
}

// Option configures a Log.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSync sets the fsync policy.
func WithSync(m SyncMode) Option {
	return func(o *options) { o.sync = m }
}

// WithMaxRecordBytes bounds the payload size of a single record.
func WithMaxRecordBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRecordBytes = n
		}
	}
}

// WithIndexInterval sets how many records lie between sparse index entries.
func WithIndexInterval(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.indexInterval = n
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

// WithArchiver installs a hook that receives records dropped by compaction.
func WithArchiver(a Archiver) Option {
	return func(o *options) { o.archiver = a }
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/fxd/internal/config"
	"github.com/roach88/fxd/internal/wal"
)

var tracer = otel.Tracer("fxd.manager")

// WatermarkSource reports the lowest sequence a consumer still needs.
// ok is false when the source holds nothing back. *signal.Bus and
// *store.Store implement it.
type WatermarkSource interface {
	LowWatermark(ctx context.Context) (wal.Cursor, bool, error)
}

// HistoryRecorder persists compaction history. *store.Store implements it.
type HistoryRecorder interface {
	RecordCompaction(ctx context.Context, logName string, res wal.CompactionResult, archive string) (int64, error)
}

type source struct {
	name string
	src  WatermarkSource
}

type options struct {
	logger  *slog.Logger
	history HistoryRecorder
	walOpts []wal.Option
}

// Option configures a Manager.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHistory records every compaction that removes records.
func WithHistory(h HistoryRecorder) Option {
	return func(o *options) { o.history = h }
}

// WithLogOptions passes options through to wal.Open.
func WithLogOptions(opts ...wal.Option) Option {
	return func(o *options) { o.walOpts = append(o.walOpts, opts...) }
}

// Manager runs recovery and compaction for one log.
type Manager struct {
	log     *wal.Log
	name    string
	cfg     config.Compaction
	opts    options
	report  wal.RecoveryReport
	compact sync.Mutex

	mu      sync.Mutex
	sources []source
}

// Open opens the log in storage and recovers it. When cfg.ArchiveDir is
// set, compacted records are archived there with zstd.
func Open(ctx context.Context, storage wal.Storage, cfg config.Compaction, opts ...Option) (*Manager, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "manager.Open",
		trace.WithAttributes(attribute.String("storage", storage.Name())))
	defer span.End()

	walOpts := append([]wal.Option{wal.WithLogger(o.logger)}, o.walOpts...)
	if cfg.ArchiveDir != "" {
		walOpts = append(walOpts, wal.WithArchiver(wal.NewZstdArchiver(cfg.ArchiveDir)))
	}
	l, err := wal.Open(storage, walOpts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "open failed")
		return nil, fmt.Errorf("manager: open: %w", err)
	}
	report, err := l.Recover(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery failed")
		l.Close()
		return nil, fmt.Errorf("manager: recover: %w", err)
	}
	span.SetAttributes(
		attribute.Int64("recovered", int64(report.Recovered)),
		attribute.Int64("truncated_bytes", report.TruncatedBytes),
		attribute.Bool("from_checkpoint", report.FromCheckpoint),
	)
	return &Manager{log: l, name: storage.Name(), cfg: cfg, opts: o, report: report}, nil
}

// Log returns the managed log.
func (m *Manager) Log() *wal.Log { return m.log }

// Recovery returns the report from Open.
func (m *Manager) Recovery() wal.RecoveryReport { return m.report }

// NextSeq returns the sequence the next append will receive.
func (m *Manager) NextSeq() uint64 { return m.log.NextSeq() }

// AddWatermark registers a consumer that compaction must respect.
func (m *Manager) AddWatermark(name string, src WatermarkSource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, source{name: name, src: src})
}

// Plan is a compaction decision.
type Plan struct {
	// KeepFrom is the first sequence that must survive.
	KeepFrom uint64
	// Reclaimable is the number of records below KeepFrom.
	Reclaimable uint64
	// Limit names what set KeepFrom: "retain", "none", or a watermark
	// source.
	Limit string
}

// Plan computes the highest safe KeepFrom: the minimum of every source's
// watermark and NextSeq minus RetainRecords.
func (m *Manager) Plan(ctx context.Context) (Plan, error) {
	st := m.log.Stats()
	keep, limit := st.NextSeq, "none"
	if m.cfg.RetainRecords > 0 {
		keep, limit = st.FirstSeq, "retain"
		if st.NextSeq-st.FirstSeq > m.cfg.RetainRecords {
			keep = st.NextSeq - m.cfg.RetainRecords
		}
	}

	m.mu.Lock()
	sources := append([]source(nil), m.sources...)
	m.mu.Unlock()
	for _, s := range sources {
		wm, ok, err := s.src.LowWatermark(ctx)
		if err != nil {
			return Plan{}, fmt.Errorf("manager: watermark %s: %w", s.name, err)
		}
		if ok && uint64(wm) < keep {
			keep, limit = uint64(wm), s.name
		}
	}
	keep = max(keep, st.FirstSeq)
	return Plan{KeepFrom: keep, Reclaimable: keep - st.FirstSeq, Limit: limit}, nil
}

// ShouldCompact reports whether the log exceeds a configured threshold.
func (m *Manager) ShouldCompact() bool {
	st := m.log.Stats()
	if m.cfg.MaxRecords > 0 && st.RecordCount > m.cfg.MaxRecords {
		return true
	}
	return m.cfg.MaxBytes > 0 && st.ByteSize > m.cfg.MaxBytes
}

// MaybeCompact compacts only when a threshold is exceeded and the plan
// frees at least one record. ran reports whether a compaction happened.
func (m *Manager) MaybeCompact(ctx context.Context) (res wal.CompactionResult, ran bool, err error) {
	if !m.ShouldCompact() {
		return wal.CompactionResult{}, false, nil
	}
	res, err = m.Compact(ctx)
	return res, err == nil && res.RemovedRecords > 0, err
}

// Compact compacts now, up to the planned KeepFrom.
func (m *Manager) Compact(ctx context.Context) (wal.CompactionResult, error) {
	m.compact.Lock()
	defer m.compact.Unlock()

	ctx, span := tracer.Start(ctx, "manager.Compact")
	defer span.End()

	plan, err := m.Plan(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "plan failed")
		return wal.CompactionResult{}, err
	}
	span.SetAttributes(
		attribute.Int64("keep_from", int64(plan.KeepFrom)),
		attribute.String("limit", plan.Limit),
	)
	if plan.Reclaimable == 0 {
		m.opts.logger.Debug("compaction skipped", "keep_from", plan.KeepFrom, "limit", plan.Limit)
		return wal.CompactionResult{KeepFrom: plan.KeepFrom}, nil
	}

	first := m.log.Stats().FirstSeq
	res, err := m.log.Compact(ctx, plan.KeepFrom)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compaction failed")
		return res, fmt.Errorf("manager: compact: %w", err)
	}
	span.SetAttributes(attribute.Int64("removed_records", int64(res.RemovedRecords)))
	m.opts.logger.Info("compacted",
		"log", m.name,
		"keep_from", res.KeepFrom,
		"limit", plan.Limit,
		"removed_records", res.RemovedRecords,
		"removed_bytes", res.RemovedBytes)

	if m.opts.history != nil && res.RemovedRecords > 0 {
		archive := ""
		if m.cfg.ArchiveDir != "" {
			archive = wal.ArchiveName(first, res.KeepFrom-1)
		}
		if _, err := m.opts.history.RecordCompaction(ctx, m.name, res, archive); err != nil {
			m.opts.logger.Warn("record compaction history", "log", m.name, "error", err)
		}
	}
	return res, nil
}

// Run checks the thresholds every cfg.Interval until ctx is cancelled and
// writes a checkpoint on each tick. A compaction error is logged and the
// loop continues, unless the log has failed or closed.
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	m.opts.logger.Info("compaction loop starting", "log", m.name, "interval", m.cfg.Interval)
	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			m.opts.logger.Info("compaction loop stopping: context cancelled", "log", m.name)
			return ctx.Err()
		case <-t.C:
		}
		if _, _, err := m.MaybeCompact(ctx); err != nil {
			if errors.Is(err, wal.ErrFailed) || errors.Is(err, wal.ErrClosed) {
				return err
			}
			m.opts.logger.Warn("compaction failed", "log", m.name, "error", err)
		}
		if err := m.log.Checkpoint(); err != nil {
			if errors.Is(err, wal.ErrFailed) || errors.Is(err, wal.ErrClosed) {
				return err
			}
			m.opts.logger.Warn("checkpoint failed", "log", m.name, "error", err)
		}
	}
}

// Close closes the log.
func (m *Manager) Close() error {
	return m.log.Close()
}

package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxd/internal/config"
	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/store"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

// fixedWatermark is a WatermarkSource pinned at one sequence.
type fixedWatermark struct {
	seq wal.Cursor
	ok  bool
	err error
}

func (f fixedWatermark) LowWatermark(context.Context) (wal.Cursor, bool, error) {
	return f.seq, f.ok, f.err
}

func openManager(t *testing.T, cfg config.Compaction, opts ...Option) *Manager {
	t.Helper()
	m, err := Open(context.Background(), wal.NewMemoryStorage(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func fill(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := range n {
		_, err := m.Log().Append(context.Background(), 1, value.Int(int64(i)))
		require.NoError(t, err)
	}
}

func TestOpen_RecoversExistingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")
	ctx := context.Background()

	m, err := Open(ctx, wal.NewFileStorage(path), config.Compaction{})
	require.NoError(t, err)
	fill(t, m, 25)
	require.NoError(t, m.Close())

	m, err = Open(ctx, wal.NewFileStorage(path), config.Compaction{})
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, uint64(25), m.Recovery().Recovered)
	assert.Equal(t, uint64(26), m.NextSeq())
}

func TestOpen_CorruptHeaderFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.wal")
	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

	_, err := Open(context.Background(), wal.NewFileStorage(path), config.Compaction{})
	require.Error(t, err)
	assert.True(t, wal.IsCorruption(err))
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		retain  uint64
		sources []WatermarkSource
		keep    uint64
		limit   string
	}{
		{"no constraints", 0, nil, 101, "none"},
		{"retain window", 10, nil, 91, "retain"},
		{"retain larger than log", 500, nil, 1, "retain"},
		{"watermark below window", 10, []WatermarkSource{fixedWatermark{seq: 40, ok: true}}, 40, "src0"},
		{"watermark above window", 10, []WatermarkSource{fixedWatermark{seq: 95, ok: true}}, 91, "retain"},
		{"inactive watermark", 0, []WatermarkSource{fixedWatermark{seq: 5}}, 101, "none"},
		{"lowest of many", 0, []WatermarkSource{
			fixedWatermark{seq: 70, ok: true},
			fixedWatermark{seq: 30, ok: true},
		}, 30, "src1"},
		{"watermark below first", 0, []WatermarkSource{fixedWatermark{seq: 0, ok: true}}, 1, "src0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := openManager(t, config.Compaction{RetainRecords: tt.retain})
			fill(t, m, 100)
			for i, s := range tt.sources {
				m.AddWatermark(fmt.Sprintf("src%d", i), s)
			}
			plan, err := m.Plan(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.keep, plan.KeepFrom)
			assert.Equal(t, tt.keep-1, plan.Reclaimable)
			assert.Equal(t, tt.limit, plan.Limit)
		})
	}
}

func TestPlan_WatermarkError(t *testing.T) {
	m := openManager(t, config.Compaction{})
	m.AddWatermark("broken", fixedWatermark{err: errors.New("db gone")})

	_, err := m.Plan(context.Background())
	assert.ErrorContains(t, err, "broken")
	_, err = m.Compact(context.Background())
	assert.Error(t, err)
}

func TestMaybeCompact_Thresholds(t *testing.T) {
	m := openManager(t, config.Compaction{MaxRecords: 50, RetainRecords: 10})
	fill(t, m, 50)

	_, ran, err := m.MaybeCompact(context.Background())
	require.NoError(t, err)
	assert.False(t, ran, "at the threshold, not past it")

	fill(t, m, 1)
	res, ran, err := m.MaybeCompact(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, uint64(42), res.KeepFrom)
	assert.Equal(t, uint64(41), res.RemovedRecords)
	assert.Equal(t, uint64(10), m.Log().Stats().RecordCount)
}

func TestMaybeCompact_ByteThreshold(t *testing.T) {
	m := openManager(t, config.Compaction{MaxBytes: 200, RetainRecords: 1})
	fill(t, m, 2)
	assert.False(t, m.ShouldCompact())
	fill(t, m, 20)
	assert.True(t, m.ShouldCompact())

	_, ran, err := m.MaybeCompact(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, uint64(1), m.Log().Stats().RecordCount)
}

// TestCompact_KeepsWhatConsumersNeed checks that every record at or above
// the minimum consumer position stays readable.
func TestCompact_KeepsWhatConsumersNeed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cursors, err := store.Open(filepath.Join(dir, "cursors.db"))
	require.NoError(t, err)
	defer cursors.Close()

	m := openManager(t, config.Compaction{ArchiveDir: filepath.Join(dir, "archive")}, WithHistory(cursors))
	bus := signal.New(m.Log())
	m.AddWatermark("bus", bus)
	m.AddWatermark("cursors", cursors)

	for i := range 200 {
		_, err := bus.Emit(ctx, signal.ValueChanged, "a", value.Int(int64(i)))
		require.NoError(t, err)
	}
	_, err = cursors.CommitCursor(ctx, "persist", 120)
	require.NoError(t, err)
	_, err = cursors.CommitCursor(ctx, "ui", 180)
	require.NoError(t, err)

	res, err := m.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), res.KeepFrom)
	assert.Equal(t, uint64(119), res.RemovedRecords)

	var seqs []uint64
	for sig, err := range bus.Replay(120, signal.MatchAll()) {
		require.NoError(t, err)
		seqs = append(seqs, sig.Seq)
	}
	require.Len(t, seqs, 81)
	assert.Equal(t, uint64(120), seqs[0])
	assert.Equal(t, uint64(200), seqs[80])

	hist, err := cursors.ListCompactions(ctx, "memory")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, wal.ArchiveName(1, 119), hist[0].Archive)
	_, err = os.Stat(filepath.Join(dir, "archive", hist[0].Archive))
	require.NoError(t, err)

	// Nothing more to reclaim until the slowest consumer moves.
	res, err = m.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), res.RemovedRecords)
}

func TestCompact_ReplayingSubscriberHoldsRecords(t *testing.T) {
	ctx := context.Background()
	m := openManager(t, config.Compaction{})
	bus := signal.New(m.Log())
	m.AddWatermark("bus", bus)
	for i := range 10 {
		_, err := bus.Emit(ctx, signal.ValueChanged, "a", value.Int(int64(i)))
		require.NoError(t, err)
	}

	var got []uint64
	var res wal.CompactionResult
	_, err := bus.Subscribe(ctx, signal.MatchAll(), func(s signal.Signal) error {
		if s.Seq == 4 {
			// Compact while the subscriber is part way through catch-up.
			var err error
			res, err = m.Compact(ctx)
			require.NoError(t, err)
		}
		got = append(got, s.Seq)
		return nil
	}, signal.Replay(1))
	require.NoError(t, err)

	assert.Equal(t, uint64(4), res.KeepFrom)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestRun_CompactsOnTicks(t *testing.T) {
	m := openManager(t, config.Compaction{MaxRecords: 5, RetainRecords: 2, Interval: 5 * time.Millisecond})
	fill(t, m, 20)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return m.Log().Stats().RecordCount == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_StopsWhenLogClosed(t *testing.T) {
	m := openManager(t, config.Compaction{Interval: time.Millisecond})
	require.NoError(t, m.Close())

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, wal.ErrClosed)
}

func TestRun_NoIntervalWaitsForCancel(t *testing.T) {
	m := openManager(t, config.Compaction{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
}

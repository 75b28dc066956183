package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxd/internal/signal"
	"github.com/roach88/fxd/internal/value"
	"github.com/roach88/fxd/internal/wal"
)

func TestMetrics_WiredIntoLogAndBus(t *testing.T) {
	m := New()
	ctx := context.Background()

	l, err := wal.Open(wal.NewMemoryStorage(), wal.WithMetrics(m))
	require.NoError(t, err)
	_, err = l.Recover(ctx)
	require.NoError(t, err)
	defer l.Close()

	bus := signal.New(l, signal.WithMetrics(m))
	_, err = bus.Subscribe(ctx, signal.MatchAll(), func(signal.Signal) error {
		return errors.New("nope")
	}, signal.Tail())
	require.NoError(t, err)

	for i := range 3 {
		_, err := bus.Emit(ctx, signal.ValueChanged, "a", value.Int(int64(i)))
		require.NoError(t, err)
	}
	_, err = bus.Emit(ctx, signal.Custom("tick"), "a", value.Null{})
	require.NoError(t, err)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.appendTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.emitTotal.WithLabelValues("value_changed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emitTotal.WithLabelValues("custom:tick")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.handlerErrors.WithLabelValues("value_changed")))

	res, err := l.Compact(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res.RemovedRecords)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.compactions))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.compactedRecords))
}

func TestMetrics_Recovery(t *testing.T) {
	m := New()
	m.ObserveRecovery(wal.RecoveryReport{Recovered: 9, TruncatedBytes: 5, Duration: time.Millisecond})

	assert.Equal(t, 9.0, testutil.ToFloat64(m.recoveredRecords))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.truncatedBytes))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveAppend(64, time.Microsecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fxd_wal_append_bytes_total 64")
}

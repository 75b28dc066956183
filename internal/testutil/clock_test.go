package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_StartsAtEpoch(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Ticks())
	assert.True(t, clock.Now().Equal(Epoch))
	assert.Equal(t, int64(1), clock.Ticks())
}

func TestDeterministicClock_StepsOneMillisecond(t *testing.T) {
	clock := NewDeterministicClock()

	first := clock.Now()
	second := clock.Now()
	third := clock.Now()
	assert.Equal(t, time.Millisecond, second.Sub(first))
	assert.Equal(t, time.Millisecond, third.Sub(second))
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Now()
	clock.Now()
	clock.Now()
	assert.Equal(t, int64(3), clock.Ticks())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Ticks())
	assert.True(t, clock.Now().Equal(Epoch))
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const numGoroutines = 50
	const callsPerGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				ns := clock.Now().UnixNano()
				mu.Lock()
				seen[ns] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, numGoroutines*callsPerGoroutine, "every instant is handed out once")
}

func TestDeterministicClock_Deterministic(t *testing.T) {
	clock1 := NewDeterministicClock()
	clock2 := NewDeterministicClock()

	for i := 0; i < 100; i++ {
		assert.True(t, clock1.Now().Equal(clock2.Now()))
	}
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "sub-1", ids.Generate())
	assert.Equal(t, "sub-2", ids.Generate())

	named := NewSequentialIDs("consumer")
	assert.Equal(t, "consumer-1", named.Generate())
}

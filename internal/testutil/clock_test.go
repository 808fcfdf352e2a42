package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSteppingClock_FirstCallReturnsStart(t *testing.T) {
	clock := NewSteppingClock(testStart, time.Second)
	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, testStart, clock.Now())
	assert.Equal(t, int64(1), clock.Calls())
}

func TestSteppingClock_StepsMonotonically(t *testing.T) {
	clock := NewSteppingClock(testStart, time.Minute)

	assert.Equal(t, testStart, clock.Now())
	assert.Equal(t, testStart.Add(time.Minute), clock.Now())
	assert.Equal(t, testStart.Add(2*time.Minute), clock.Now())
}

func TestSteppingClock_Reset(t *testing.T) {
	clock := NewSteppingClock(testStart, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, int64(0), clock.Calls())
	assert.Equal(t, testStart, clock.Now())
}

func TestSteppingClock_NormalizesToUTC(t *testing.T) {
	local := testStart.In(time.FixedZone("MST", -7*3600))
	clock := NewSteppingClock(local, time.Second)
	assert.Equal(t, time.UTC, clock.Now().Location())
}

func TestSteppingClock_ConcurrentCallsAreDistinct(t *testing.T) {
	clock := NewSteppingClock(testStart, time.Millisecond)

	const n = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Time]bool, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := clock.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, n, "each call gets its own timestamp")
	assert.Equal(t, int64(n), clock.Calls())
}

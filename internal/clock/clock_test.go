package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_StartsAtGivenTime(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewFake(start)
	assert.Equal(t, start, c.Now())
}

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	assert.Equal(t, start.Add(time.Minute), c.Advance(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())

	later := start.Add(24 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestFake_NormalizesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	c := NewFake(time.Date(2024, 1, 2, 7, 0, 0, 0, est))
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.Equal(t, 12, c.Now().Hour())
}

func TestFake_ThreadSafe(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	const goroutines = 50

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()

	assert.Equal(t, time.Unix(goroutines, 0).UTC(), c.Now())
}

func TestSystem_ReturnsUTC(t *testing.T) {
	var c Clock = System{}
	assert.Equal(t, time.UTC, c.Now().Location())
}

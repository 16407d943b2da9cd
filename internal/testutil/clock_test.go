package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtGivenTime(t *testing.T) {
	c := NewManualClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, 0, c.Pending())
}

func TestManualClock_AfterFuncNeverFiresSynchronously(t *testing.T) {
	c := NewManualClock(epoch)
	fired := false
	c.AfterFunc(0, func() { fired = true })
	assert.False(t, fired)

	c.Advance(0)
	assert.True(t, fired)
}

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock(epoch)

	var order []string
	var seen []time.Time
	record := func(name string) func() {
		return func() {
			order = append(order, name)
			seen = append(seen, c.Now())
		}
	}
	c.AfterFunc(3*time.Hour, record("c"))
	c.AfterFunc(1*time.Hour, record("a"))
	c.AfterFunc(2*time.Hour, record("b1"))
	c.AfterFunc(2*time.Hour, record("b2"))
	c.AfterFunc(5*time.Hour, record("late"))

	c.Advance(4 * time.Hour)

	assert.Equal(t, []string{"a", "b1", "b2", "c"}, order)
	assert.Equal(t, epoch.Add(time.Hour), seen[0])
	assert.Equal(t, epoch.Add(3*time.Hour), seen[3])
	assert.Equal(t, epoch.Add(4*time.Hour), c.Now())
	assert.Equal(t, 1, c.Pending())
}

func TestManualClock_CallbackCanArmWithinWindow(t *testing.T) {
	c := NewManualClock(epoch)

	count := 0
	var rearm func()
	rearm = func() {
		count++
		c.AfterFunc(time.Hour, rearm)
	}
	c.AfterFunc(time.Hour, rearm)

	c.Advance(3 * time.Hour)
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, c.Pending())
}

func TestManualClock_Stop(t *testing.T) {
	c := NewManualClock(epoch)
	fired := false
	timer := c.AfterFunc(time.Minute, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop reports already stopped")

	c.Advance(time.Hour)
	assert.False(t, fired)
}

func TestManualClock_StopAfterFire(t *testing.T) {
	c := NewManualClock(epoch)
	timer := c.AfterFunc(time.Minute, func() {})
	c.Advance(time.Minute)
	assert.False(t, timer.Stop())
}

func TestManualClock_ConcurrentAfterFunc(t *testing.T) {
	c := NewManualClock(epoch)

	var mu sync.Mutex
	fired := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AfterFunc(time.Second, func() {
				mu.Lock()
				fired++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	require.Equal(t, 50, c.Pending())
	c.Advance(time.Second)
	assert.Equal(t, 50, fired)
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("offer")
	assert.Equal(t, "offer-1", g.Generate())
	assert.Equal(t, "offer-2", g.Generate())

	assert.Equal(t, "id-1", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_Unique(t *testing.T) {
	g := NewSequentialIDs("x")
	const n = 200

	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = g.Generate()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range results {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

package clock

import (
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_StartsAtOne(t *testing.T) {
	s := NewSequence()
	assert.Equal(t, int64(0), s.Current())
	assert.Equal(t, int64(1), s.Next())
	assert.Equal(t, int64(2), s.Next())
	assert.Equal(t, int64(2), s.Current())
}

func TestSequence_ResumesAt(t *testing.T) {
	s := NewSequenceAt(41)
	assert.Equal(t, int64(42), s.Next())
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence()

	const goroutines = 50
	const perGoroutine = 100

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				v := s.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*perGoroutine)
	assert.Equal(t, int64(goroutines*perGoroutine), s.Current())
}

func TestWall_AfterFuncFires(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var fired atomic.Bool
		Wall{}.AfterFunc(time.Second, func() { fired.Store(true) })

		time.Sleep(999 * time.Millisecond)
		synctest.Wait()
		assert.False(t, fired.Load())

		time.Sleep(time.Millisecond)
		synctest.Wait()
		assert.True(t, fired.Load())
	})
}

func TestWall_StopPreventsCallback(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var fired atomic.Bool
		timer := Wall{}.AfterFunc(time.Second, func() { fired.Store(true) })
		assert.True(t, timer.Stop())

		time.Sleep(2 * time.Second)
		synctest.Wait()
		assert.False(t, fired.Load())
	})
}

func TestWall_NowIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Wall{}.Now().Location())
}

package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(rec, nil)

	for _, ngo := range []string{"A", "B", "C"} {
		require.NoError(t, d.Notify(context.Background(), Notification{NGOID: ngo, Event: EventOffered}))
	}
	d.Close()

	require.NoError(t, d.Run(context.Background()))

	got := rec.All()
	require.Len(t, got, 3)
	for i, ngo := range []string{"A", "B", "C"} {
		assert.Equal(t, ngo, got[i].NGOID)
		assert.Equal(t, int64(i+1), got[i].Seq)
	}
	assert.Equal(t, 0, d.Pending())
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	d := NewDispatcher(Discard, nil)
	d.Close()

	err := d.Notify(context.Background(), Notification{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_FailedDeliveryIsNotRetried(t *testing.T) {
	var mu sync.Mutex
	attempts := map[string]int{}
	sink := SinkFunc(func(ctx context.Context, n Notification) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[n.NGOID]++
		if n.NGOID == "bad" {
			return errors.New("sink down")
		}
		return nil
	})

	d := NewDispatcher(sink, nil)
	d.Notify(context.Background(), Notification{NGOID: "bad"})
	d.Notify(context.Background(), Notification{NGOID: "good"})
	d.Close()
	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, map[string]int{"bad": 1, "good": 1}, attempts)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &Recorder{}
		d := NewDispatcher(rec, nil)
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- d.Run(ctx) }()

		d.Notify(ctx, Notification{NGOID: "A"})
		synctest.Wait()
		assert.Len(t, rec.All(), 1, "delivered while running")

		cancel()
		synctest.Wait()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.ErrorIs(t, d.Notify(context.Background(), Notification{}), ErrClosed)
	})
}

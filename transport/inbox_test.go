package transport

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reglet-dev/extrunner/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInbox_DispatchesErrorsWithoutMessageHandler(t *testing.T) {
	b := NewInbox()
	defer b.Close()

	var got atomic.Value
	b.OnError(func(err error) { got.Store(err) })

	b.Push(entities.Envelope{Kind: entities.KindReady})
	b.PushError(errors.New("boom"))

	// The envelope blocks the queue until a message handler shows up.
	time.Sleep(10 * time.Millisecond)
	assert.Nil(t, got.Load())

	b.OnMessage(func(entities.Envelope) {})
	require.Eventually(t, func() bool { return got.Load() != nil }, time.Second, time.Millisecond)
}

func TestInbox_HandlersRunToCompletion(t *testing.T) {
	b := NewInbox()
	defer b.Close()

	var running, overlap int32
	var count atomic.Int32
	b.OnMessage(func(entities.Envelope) {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		count.Add(1)
	})

	for i := 0; i < 10; i++ {
		b.Push(entities.Envelope{Kind: entities.KindOperation})
	}
	require.Eventually(t, func() bool { return count.Load() == 10 }, time.Second, time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestInbox_CloseDrainsAndExits(t *testing.T) {
	b := NewInbox()
	b.Push(entities.Envelope{Kind: entities.KindReady})
	b.Close()
	b.Close()

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatch goroutine did not exit")
	}

	// Pushing after close is a no-op.
	b.Push(entities.Envelope{Kind: entities.KindReady})
}

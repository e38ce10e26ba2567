package tableorder

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ringEvent struct {
	id int64
}

// funcHandler adapts a function to EventHandler.
type funcHandler func(*ringEvent)

func (f funcHandler) OnEvent(e *ringEvent) {
	f(e)
}

func startRing(t testing.TB, capacity int64, fn func(*ringEvent)) *RingBuffer[*ringEvent] {
	rb := NewRingBuffer[*ringEvent](capacity, funcHandler(fn))
	rb.Start()
	return rb
}

func shutdownRing(t testing.TB, rb *RingBuffer[*ringEvent]) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rb.Shutdown(ctx))
}

func TestRingBuffer(t *testing.T) {
	t.Run("delivers in publish order", func(t *testing.T) {
		var got []int64
		rb := startRing(t, 4, func(e *ringEvent) { got = append(got, e.id) })

		assert.Equal(t, int64(-1), rb.ProducerSequence())

		// more events than slots: the producer waits for the consumer
		for i := int64(0); i < 50; i++ {
			require.NoError(t, rb.Publish(&ringEvent{id: i}))
		}
		shutdownRing(t, rb)

		require.Len(t, got, 50)
		for i, id := range got {
			assert.Equal(t, int64(i), id)
		}
		assert.Equal(t, int64(49), rb.ConsumerSequence())
		assert.Equal(t, int64(0), rb.GetPendingEvents())
	})

	t.Run("shutdown drains pending events", func(t *testing.T) {
		release := make(chan struct{})
		var handled atomic.Int64
		rb := startRing(t, 16, func(e *ringEvent) {
			<-release
			handled.Add(1)
		})

		for i := int64(0); i < 6; i++ {
			require.NoError(t, rb.Publish(&ringEvent{id: i}))
		}
		assert.Eventually(t, func() bool {
			return rb.GetPendingEvents() >= 5
		}, time.Second, time.Millisecond)

		done := make(chan error, 1)
		go func() {
			done <- rb.Shutdown(context.Background())
		}()
		close(release)

		require.NoError(t, <-done)
		assert.Equal(t, int64(6), handled.Load())
		assert.ErrorIs(t, rb.Publish(&ringEvent{}), ErrShutdown)
	})

	t.Run("shutdown gives up at the deadline", func(t *testing.T) {
		busy := make(chan struct{})
		rb := startRing(t, 16, func(e *ringEvent) {
			close(busy)
			time.Sleep(200 * time.Millisecond)
		})
		require.NoError(t, rb.Publish(&ringEvent{}))
		<-busy

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, rb.Shutdown(ctx), ErrDisruptorTimeout)
	})

	t.Run("many producers", func(t *testing.T) {
		var sum atomic.Int64
		rb := startRing(t, 64, func(e *ringEvent) { sum.Add(e.id) })

		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := int64(1); i <= 100; i++ {
					_ = rb.Publish(&ringEvent{id: i})
				}
			}()
		}
		wg.Wait()
		shutdownRing(t, rb)

		assert.Equal(t, int64(8*5050), sum.Load())
	})

	t.Run("capacity must be a power of 2", func(t *testing.T) {
		noop := funcHandler(func(*ringEvent) {})
		for _, capacity := range []int64{-1, 0, 3, 15} {
			assert.Panics(t, func() { NewRingBuffer[*ringEvent](capacity, noop) }, "capacity %d", capacity)
		}
		assert.NotPanics(t, func() { NewRingBuffer[*ringEvent](16, noop) })
	})
}

func BenchmarkRingBufferPublish(b *testing.B) {
	var count atomic.Int64
	rb := startRing(b, 1<<16, func(*ringEvent) { count.Add(1) })

	ev := &ringEvent{}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = rb.Publish(ev)
		}
	})
	b.StopTimer()

	shutdownRing(b, rb)
}

package drain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/internal/ingestion"
	"github.com/sidecar-observer/runtime/internal/queue"
	"github.com/sidecar-observer/runtime/internal/sampler"
)

type recordingSink struct {
	mu       sync.Mutex
	accepted []event.Event
}

func (s *recordingSink) Accept(ctx context.Context, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

func newPool(t *testing.T, sink *recordingSink) (*Pool, *queue.Queue) {
	t.Helper()
	q := queue.New(queue.Options{MaxSize: 100, DropOnFull: true})
	gate := &ingestion.Gate{
		Queue:     q,
		Sampler:   sampler.New(sampler.Options{Rates: map[event.Stream]float64{event.StreamEvents: 1.0}}),
		Accepting: func() bool { return true },
	}
	pool := New(Options{
		Queue:         q,
		Sink:          sink,
		Gate:          gate,
		Workers:       2,
		GetTimeout:    20 * time.Millisecond,
		ShutdownGrace: 200 * time.Millisecond,
	})
	return pool, q
}

func TestDrainProcessesQueuedEvents(t *testing.T) {
	t.Run("every enqueued event eventually reaches the sink", func(t *testing.T) {
		sink := &recordingSink{}
		pool, q := newPool(t, sink)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		for i := 0; i < 20; i++ {
			require.True(t, q.Put(event.New(event.KindCustom, event.StreamEvents, nil)))
		}

		require.Eventually(t, func() bool { return sink.count() == 20 }, time.Second, 10*time.Millisecond)
		pool.Shutdown(context.Background())
	})
}

func TestDrainShutdownIsIdempotent(t *testing.T) {
	t.Run("calling Shutdown twice does not panic or block", func(t *testing.T) {
		sink := &recordingSink{}
		pool, _ := newPool(t, sink)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		pool.Start(ctx)

		done := make(chan struct{})
		go func() {
			pool.Shutdown(context.Background())
			pool.Shutdown(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Shutdown did not return")
		}
	})
}

func TestDrainShutdownReclaimsRemaining(t *testing.T) {
	t.Run("events still queued past the grace period are counted as dropped", func(t *testing.T) {
		sink := &recordingSink{}
		q := queue.New(queue.Options{MaxSize: 100, DropOnFull: true})
		gate := &ingestion.Gate{
			Queue:     q,
			Sampler:   sampler.New(sampler.Options{Rates: map[event.Stream]float64{event.StreamEvents: 1.0}}),
			Accepting: func() bool { return false },
		}
		pool := New(Options{Queue: q, Sink: sink, Gate: gate, Workers: 1, GetTimeout: time.Millisecond, ShutdownGrace: 10 * time.Millisecond})

		for i := 0; i < 5; i++ {
			q.Put(event.New(event.KindCustom, event.StreamEvents, nil))
		}

		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		cancel()
		pool.Shutdown(context.Background())

		assert.Equal(t, 0, q.Len())
		assert.Equal(t, uint64(5), q.Stats().TotalDropped+uint64(sink.count()))
	})
}

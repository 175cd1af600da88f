package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/internal/queue"
	"github.com/sidecar-observer/runtime/internal/sampler"
)

// sumCounter is a fake metrics.Counter that just totals every Inc call,
// regardless of labels, for asserting conservation invariants in tests.
type sumCounter struct {
	mu    sync.Mutex
	total float64
}

func (c *sumCounter) Inc(delta float64, labels ...string) {
	c.mu.Lock()
	c.total += delta
	c.mu.Unlock()
}

func (c *sumCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func newGate(t *testing.T) *Gate {
	t.Helper()
	q := queue.New(queue.Options{MaxSize: 10, DropOnFull: true})
	s := sampler.New(sampler.Options{Rates: map[event.Stream]float64{event.StreamEvents: 1.0}})
	return &Gate{
		Queue:         q,
		Sampler:       s,
		Accepting:     func() bool { return true },
		MaxEventBytes: event.MaxEventBytes,
	}
}

func TestSubmitAcceptsWithinLimits(t *testing.T) {
	t.Run("a well-formed event within size limits is enqueued", func(t *testing.T) {
		g := newGate(t)
		ev := event.New(event.KindCustom, event.StreamEvents, map[string]any{"a": 1})
		assert.True(t, g.Submit(context.Background(), ev))
		assert.Equal(t, 1, g.Queue.Len())
	})
}

func TestSubmitRejectsWhenDraining(t *testing.T) {
	t.Run("submit is refused once Accepting reports false", func(t *testing.T) {
		g := newGate(t)
		g.Accepting = func() bool { return false }
		ev := event.New(event.KindCustom, event.StreamEvents, nil)
		assert.False(t, g.Submit(context.Background(), ev))
		assert.Equal(t, 0, g.Queue.Len())
	})
}

func TestSubmitRejectsOversizeEvents(t *testing.T) {
	t.Run("a payload over the byte limit is dropped, never enqueued", func(t *testing.T) {
		g := newGate(t)
		g.MaxEventBytes = 16
		ev := event.New(event.KindCustom, event.StreamEvents, map[string]any{"big": make([]byte, 1024)})
		assert.False(t, g.Submit(context.Background(), ev))
		assert.Equal(t, 0, g.Queue.Len())
	})
}

func TestSubmitConservesEventsQueuedTotal(t *testing.T) {
	t.Run("events_queued_total equals processed plus dropped plus queue_size under load-shedding", func(t *testing.T) {
		queued := &sumCounter{}
		dropped := &sumCounter{}
		q := queue.New(queue.Options{MaxSize: 10, DropOnFull: true, DroppedCounter: dropped})
		s := sampler.New(sampler.Options{Rates: map[event.Stream]float64{event.StreamEvents: 1.0}})
		g := &Gate{
			Queue:              q,
			Sampler:            s,
			Accepting:          func() bool { return true },
			MaxEventBytes:      event.MaxEventBytes,
			EventsQueuedTotal:  queued,
			EventsDroppedTotal: dropped,
		}

		const submits = 100
		for i := 0; i < submits; i++ {
			g.Submit(context.Background(), event.New(event.KindCustom, event.StreamEvents, map[string]any{"i": i}))
		}

		processed := 0
		for {
			if _, ok := q.Get(0); ok {
				processed++
				continue
			}
			break
		}
		queueSize := q.Len()

		assert.Equal(t, float64(submits), queued.value())
		assert.Equal(t, queued.value(), float64(processed)+dropped.value()+float64(queueSize))
	})
}

func TestObserveFailOpen(t *testing.T) {
	t.Run("a panicking function returns ok=false instead of propagating", func(t *testing.T) {
		g := newGate(t)
		result, ok := Observe(context.Background(), g, "risky", func(ctx context.Context) (int, error) {
			panic("boom")
		})
		assert.False(t, ok)
		assert.Equal(t, 0, result)
	})

	t.Run("a returned error is treated the same as a panic", func(t *testing.T) {
		g := newGate(t)
		result, ok := Observe(context.Background(), g, "risky", func(ctx context.Context) (string, error) {
			return "partial", errors.New("failed")
		})
		assert.False(t, ok)
		assert.Equal(t, "", result)
	})

	t.Run("success returns the value and ok=true", func(t *testing.T) {
		g := newGate(t)
		result, ok := Observe(context.Background(), g, "safe", func(ctx context.Context) (int, error) {
			return 42, nil
		})
		require.True(t, ok)
		assert.Equal(t, 42, result)
	})
}

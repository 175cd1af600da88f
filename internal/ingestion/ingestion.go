// Package ingestion implements the sidecar's two public entry points,
// Submit and Observe, and their fail-open contract. Grounded on the
// recover()-guarded dispatch idiom used throughout the teacher's
// engine.go (e.g. dispatchEvent), generalized into this package's
// keystone invariant: nothing that happens inside the sidecar is ever
// allowed to surface as a panic or error to the caller.
package ingestion

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/internal/queue"
	"github.com/sidecar-observer/runtime/internal/sampler"
	"github.com/sidecar-observer/runtime/telemetry/logging"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// Gate is the narrow surface Submit needs from the rest of the sidecar: a
// plain struct of collaborators, so tests can build one around their own
// queue/sampler pair without constructing the full facade.
type Gate struct {
	Queue   *queue.Queue
	Sampler *sampler.Sampler

	EventsQueuedTotal  metrics.Counter
	EventsDroppedTotal metrics.Counter // labeled by reason
	ErrorsTotal        metrics.Counter // labeled by operation
	ProcessingDuration metrics.Histogram
	Logger             logging.Logger

	// Accepting reports whether the sidecar is currently in a state that
	// accepts new events (Ready/Degraded, not Draining/Stopped).
	Accepting func() bool

	MaxEventBytes int
}

// Submit enqueues an already-constructed event, applying the size gate
// then the sampling gate then the queue's load-shedding policy. Returns true
// iff the event was enqueued. Never panics; any internal failure is
// captured, counted under errors_total{operation=submit}, and treated as a
// drop.
func (g *Gate) Submit(ctx context.Context, ev event.Event) (accepted bool) {
	defer func() {
		if r := recover(); r != nil {
			g.recordError(ctx, "submit", r)
			accepted = false
		}
	}()

	if g.Accepting != nil && !g.Accepting() {
		g.recordDrop("draining")
		return false
	}

	maxBytes := g.MaxEventBytes
	if maxBytes <= 0 {
		maxBytes = event.MaxEventBytes
	}
	size, err := ev.SerializedSize()
	if err != nil || size > maxBytes {
		g.recordDrop(string(queue.ReasonOversize))
		return false
	}

	if g.Sampler != nil && !g.Sampler.ShouldSample(ev) {
		return false
	}

	if g.Queue == nil {
		g.recordError(ctx, "submit", fmt.Errorf("ingestion gate has no queue configured"))
		return false
	}
	// events_queued_total counts every event that reaches queue admission,
	// not just ones the queue accepts: Queue.Put records its own drop
	// reason internally, and events_queued_total = events_processed_total +
	// events_dropped_total + queue_size must hold even under shedding.
	if g.EventsQueuedTotal != nil {
		g.EventsQueuedTotal.Inc(1)
	}
	return g.Queue.Put(ev)
}

func (g *Gate) recordDrop(reason string) {
	if g.EventsDroppedTotal != nil {
		g.EventsDroppedTotal.Inc(1, reason)
	}
}

func (g *Gate) recordError(ctx context.Context, operation string, recovered any) {
	if g.ErrorsTotal != nil {
		g.ErrorsTotal.Inc(1, operation)
	}
	if g.Logger != nil {
		g.Logger.ErrorCtx(ctx, "fail-open recovery", "operation", operation, "recovered", fmt.Sprint(recovered), "stack", string(debug.Stack()))
	}
}

// Observe runs fn under the fail-open contract: any panic is recovered,
// duration is always recorded, and errors never propagate to the caller.
// On panic, Observe returns the zero value of T and reports ok=false; the
// keystone invariant is that Observe itself never panics or returns an
// error the caller must handle.
func Observe[T any](ctx context.Context, g *Gate, operationName string, fn func(ctx context.Context) (T, error)) (result T, ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			g.recordError(ctx, operationName, r)
			var zero T
			result, ok = zero, false
		}
		if g.ProcessingDuration != nil {
			g.ProcessingDuration.Observe(float64(time.Since(start).Milliseconds()))
		}
	}()

	value, err := fn(ctx)
	if err != nil {
		g.recordError(ctx, operationName, err)
		var zero T
		return zero, false
	}
	return value, true
}

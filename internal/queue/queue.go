// Package queue implements the sidecar's bounded FIFO: a fixed-capacity
// event buffer with atomic accounting and load shedding, sitting between the
// Ingestion API and the Drain Worker(s).
package queue

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// DropReason labels why an event never reached the sink.
type DropReason string

const (
	ReasonOversize        DropReason = "oversize"
	ReasonQueueFull        DropReason = "queue_full"
	ReasonQueueFullHeadDrop DropReason = "queue_full_head_drop"
	ReasonStale            DropReason = "stale"
	ReasonShutdown         DropReason = "shutdown"
)

// Stats is a point-in-time snapshot of queue accounting.
type Stats struct {
	CurrentSize    int
	MaxSize        int
	Utilization    float64
	TotalEnqueued  uint64
	TotalDropped   uint64
}

// Queue is a bounded, thread-safe FIFO. Producers call Put from arbitrary
// goroutines; Drain Worker(s) call Get. Grounded on the teacher's
// telemetry/events.eventBus non-blocking channel-drop idiom, generalized
// from per-subscriber fan-out to a single ordered FIFO with a choice of
// drop-incoming or drop-oldest load-shedding policy, and on
// internal/pipeline.Pipeline's atomic-counter/mutex conventions.
type Queue struct {
	mu         sync.Mutex
	notify     chan struct{} // buffered signal, sent on every successful Put
	items      *list.List    // of event.Event
	maxSize    int
	maxAge     time.Duration
	dropOnFull bool

	totalEnqueued atomic.Uint64
	totalDropped  atomic.Uint64
	closed        atomic.Bool

	droppedCounter metrics.Counter // labeled by reason
	sizeGauge      metrics.Gauge
	utilGauge      metrics.Gauge
	waitHistogram  metrics.Histogram
}

// Options configures a new Queue.
type Options struct {
	MaxSize    int
	MaxAge     time.Duration
	DropOnFull bool

	DroppedCounter metrics.Counter
	SizeGauge      metrics.Gauge
	UtilGauge      metrics.Gauge
	WaitHistogram  metrics.Histogram
}

// New constructs a Queue per Options.
func New(opts Options) *Queue {
	q := &Queue{
		items:          list.New(),
		notify:         make(chan struct{}, 1),
		maxSize:        opts.MaxSize,
		maxAge:         opts.MaxAge,
		dropOnFull:     opts.DropOnFull,
		droppedCounter: opts.DroppedCounter,
		sizeGauge:      opts.SizeGauge,
		utilGauge:      opts.UtilGauge,
		waitHistogram:  opts.WaitHistogram,
	}
	return q
}

// signal wakes one blocked Get, if any, without blocking itself.
func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Reconfigure atomically applies a new capacity/age/policy triple, used by
// config hot-reload. It never drops events to shrink below the new
// capacity; it only affects future Put decisions.
func (q *Queue) Reconfigure(maxSize int, maxAge time.Duration, dropOnFull bool) {
	q.mu.Lock()
	q.maxSize = maxSize
	q.maxAge = maxAge
	q.dropOnFull = dropOnFull
	q.mu.Unlock()
}

// Put appends ev to the tail, applying the load-shedding policy if the
// queue is at capacity. Returns true iff ev was enqueued. Non-blocking.
func (q *Queue) Put(ev event.Event) bool {
	ev = ev.MarkEnqueued(time.Now())
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		q.recordDrop(ReasonShutdown)
		return false
	}
	if q.items.Len() >= q.maxSize {
		if q.dropOnFull {
			q.mu.Unlock()
			q.recordDrop(ReasonQueueFull)
			return false
		}
		// head-drop: remove the oldest to make room for the new arrival.
		front := q.items.Front()
		if front != nil {
			q.items.Remove(front)
			q.totalDropped.Add(1)
			if q.droppedCounter != nil {
				q.droppedCounter.Inc(1, string(ReasonQueueFullHeadDrop))
			}
		}
	}
	q.items.PushBack(ev)
	q.totalEnqueued.Add(1)
	size := q.items.Len()
	q.publishSize(size)
	q.mu.Unlock()
	q.signal()
	return true
}

// Get blocks up to timeout waiting for an event, applying the age-based
// reaper to any stale head-of-line events before returning. Returns
// (event, true) on success, (zero, false) on timeout or a closed queue.
func (q *Queue) Get(timeout time.Duration) (event.Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		q.reapStaleLocked()
		if q.items.Len() > 0 {
			front := q.items.Front()
			ev := q.items.Remove(front).(event.Event)
			q.publishSize(q.items.Len())
			q.mu.Unlock()
			if q.waitHistogram != nil {
				q.waitHistogram.Observe(float64(time.Since(ev.EnqueuedAt()).Milliseconds()))
			}
			return ev, true
		}
		closed := q.closed.Load()
		q.mu.Unlock()
		if closed {
			// Pass the wake-up on so every other blocked Get also returns.
			q.signal()
			return event.Event{}, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return event.Event{}, false
		}
		select {
		case <-q.notify:
		case <-time.After(remaining):
			return event.Event{}, false
		}
	}
}

// reapStaleLocked drops events older than maxAge from the head of the
// queue. Must be called with q.mu held.
func (q *Queue) reapStaleLocked() {
	if q.maxAge <= 0 {
		return
	}
	now := time.Now()
	for {
		front := q.items.Front()
		if front == nil {
			return
		}
		ev := front.Value.(event.Event)
		if now.Sub(ev.EnqueuedAt()) <= q.maxAge {
			return
		}
		q.items.Remove(front)
		q.totalDropped.Add(1)
		if q.droppedCounter != nil {
			q.droppedCounter.Inc(1, string(ReasonStale))
		}
		q.publishSize(q.items.Len())
	}
}

func (q *Queue) recordDrop(reason DropReason) {
	q.totalDropped.Add(1)
	if q.droppedCounter != nil {
		q.droppedCounter.Inc(1, string(reason))
	}
}

func (q *Queue) publishSize(size int) {
	if q.sizeGauge != nil {
		q.sizeGauge.Set(float64(size))
	}
	if q.utilGauge != nil && q.maxSize > 0 {
		q.utilGauge.Set(float64(size) / float64(q.maxSize))
	}
}

// Stats returns a snapshot of queue accounting.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	size := q.items.Len()
	maxSize := q.maxSize
	q.mu.Unlock()
	util := 0.0
	if maxSize > 0 {
		util = float64(size) / float64(maxSize)
	}
	return Stats{
		CurrentSize:   size,
		MaxSize:       maxSize,
		Utilization:   util,
		TotalEnqueued: q.totalEnqueued.Load(),
		TotalDropped:  q.totalDropped.Load(),
	}
}

// Len returns the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close marks the queue as closed; Put returns false for all future calls
// and any blocked Get returns promptly. Idempotent.
func (q *Queue) Close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}
	q.signal()
}

// DrainRemaining removes and returns every event still queued, counting
// each as dropped with the given reason. Used by the Drain Worker supervisor
// at the end of the shutdown grace period (B4).
func (q *Queue) DrainRemaining(reason DropReason) []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := make([]event.Event, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		remaining = append(remaining, e.Value.(event.Event))
	}
	n := len(remaining)
	q.items.Init()
	q.publishSize(0)
	if n > 0 {
		q.totalDropped.Add(uint64(n))
		if q.droppedCounter != nil {
			q.droppedCounter.Inc(float64(n), string(reason))
		}
	}
	return remaining
}

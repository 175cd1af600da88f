// Package event defines the unit of ingestion handled by the sidecar.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the categories of events the sidecar accepts.
type Kind string

const (
	KindTestStart     Kind = "test_start"
	KindTestEnd       Kind = "test_end"
	KindStep          Kind = "step"
	KindHTTPCall      Kind = "http_call"
	KindLog           Kind = "log"
	KindProfileSample Kind = "profile_sample"
	KindCustom        Kind = "custom"
)

// Stream names the sampling bucket an event belongs to.
type Stream string

const (
	StreamEvents    Stream = "events"
	StreamLogs      Stream = "logs"
	StreamProfiling Stream = "profiling"
	StreamMetrics   Stream = "metrics"
)

// MaxEventBytes is the default upper bound on serialized event size.
const MaxEventBytes = 64 * 1024

// Event is the immutable unit of ingestion. Once constructed via New it must
// not be mutated; the queue and sink treat it as a value to be copied by
// reference, never edited in place.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Stream    Stream         `json:"stream"`
	Timestamp time.Time      `json:"timestamp"`
	Monotonic int64          `json:"monotonic_ns"`
	RunID     string         `json:"run_id,omitempty"`
	TestID    string         `json:"test_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`

	// Anomaly marks the event as originating from an anomaly window, giving
	// the sampler a hint to consider an adaptive boost for the events stream.
	Anomaly bool `json:"-"`

	enqueuedAt time.Time
}

// processStart is the monotonic reference point for Event.Monotonic.
var processStart = time.Now()

// New constructs an Event, assigning a freshly generated ID (use WithID to
// replace it) and stamping both wall-clock and monotonic timestamps.
func New(kind Kind, stream Stream, payload map[string]any) Event {
	now := time.Now()
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Stream:    stream,
		Timestamp: now,
		Monotonic: now.Sub(processStart).Nanoseconds(),
		Payload:   payload,
	}
}

// WithID returns a copy of the event with the given ID, for producers that
// need globally-coordinated identifiers rather than a freshly generated one.
func (e Event) WithID(id string) Event {
	e.ID = id
	return e
}

// WithCorrelation returns a copy of the event stamped with run/test IDs.
func (e Event) WithCorrelation(runID, testID string) Event {
	e.RunID = runID
	e.TestID = testID
	return e
}

// WithAnomaly returns a copy of the event marked (or unmarked) as part of an
// anomaly window, for sampler adaptive-boost consideration.
func (e Event) WithAnomaly(anomaly bool) Event {
	e.Anomaly = anomaly
	return e
}

// MarkEnqueued stamps the instant the event entered the queue, used by the
// queue's age-based reaper. It returns a copy; callers own the mutation.
func (e Event) MarkEnqueued(at time.Time) Event {
	e.enqueuedAt = at
	return e
}

// EnqueuedAt reports when the event was appended to the queue; zero if it
// has never been enqueued.
func (e Event) EnqueuedAt() time.Time { return e.enqueuedAt }

// SerializedSize returns the JSON-encoded length of the event, used by the
// ingestion size gate. A marshal failure is treated as oversize so the event
// is dropped rather than silently admitted.
func (e Event) SerializedSize() (int, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

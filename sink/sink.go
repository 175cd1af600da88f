// Package sink defines the downstream collaborator boundary: the interface
// the Drain Worker hands events to. Persistence, forwarding, and any other
// durability concern belongs to the implementation, which lives outside
// this repository's scope (spec.md §1 lists "downstream persistence" as an
// external collaborator).
package sink

import (
	"context"

	"github.com/sidecar-observer/runtime/event"
)

// Sink accepts a drained event. Implementations may forward it over the
// network, write it to disk, or fan it out to a message broker; the sidecar
// only requires that Accept either succeeds or returns an error, never
// panics without recovering internally. A Sink that panics is still safe
// from the caller's perspective because the Drain Worker wraps every call
// in the fail-open Observe wrapper.
type Sink interface {
	Accept(ctx context.Context, ev event.Event) error
}

// DiscardSink is a no-op Sink, useful for tests and for a sidecar run
// standalone without a configured downstream collaborator.
type DiscardSink struct{}

// Accept implements Sink by dropping the event.
func (DiscardSink) Accept(ctx context.Context, ev event.Event) error { return nil }

package sink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidecar-observer/runtime/event"
)

func TestDiscardSinkAcceptsWithoutError(t *testing.T) {
	t.Run("Accept always reports success and performs no work", func(t *testing.T) {
		var s DiscardSink
		err := s.Accept(context.Background(), event.New(event.KindStep, event.StreamEvents, nil))
		assert.NoError(t, err)
	})
}

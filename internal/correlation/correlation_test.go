package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRoundTrip(t *testing.T) {
	t.Run("a correlation context survives a WithContext/FromContext round trip", func(t *testing.T) {
		ctx := WithContext(context.Background(), Context{RunID: "run-1", TestID: "test-1"})
		got, ok := FromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "test-1", got.TestID)
	})

	t.Run("a plain context carries no correlation information", func(t *testing.T) {
		_, ok := FromContext(context.Background())
		assert.False(t, ok)
		assert.Equal(t, "", RunID(context.Background()))
	})
}

func TestIsZero(t *testing.T) {
	t.Run("an empty context reports zero", func(t *testing.T) {
		assert.True(t, Context{}.IsZero())
		assert.False(t, Context{RunID: "x"}.IsZero())
	})
}

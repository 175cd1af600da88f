package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidecar-observer/runtime/internal/correlation"
)

type countingCounter struct{ n int }

func (c *countingCounter) Inc(delta float64, labels ...string) { c.n++ }

func TestLoggerEnrichesFromCorrelation(t *testing.T) {
	t.Run("run_id and test_id are attached from an explicitly propagated context", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(slog.New(slog.NewJSONHandler(&buf, nil)), nil)

		ctx := correlation.WithContext(context.Background(), correlation.Context{RunID: "r1", TestID: "t1"})
		logger.InfoCtx(ctx, "something happened")

		require.Eventually(t, func() bool { return buf.Len() > 0 }, time.Second, time.Millisecond)
		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "r1", line["run_id"])
		assert.Equal(t, "t1", line["test_id"])
	})
}

func TestLoggerNeverBlocksOnASlowWriter(t *testing.T) {
	t.Run("a log call past the deadline is counted as dropped instead of blocking the caller", func(t *testing.T) {
		dropped := &countingCounter{}
		blocking := slog.New(slog.NewTextHandler(blockingWriter{}, nil))
		logger := New(blocking, dropped)

		start := time.Now()
		logger.ErrorCtx(context.Background(), "slow sink")
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 200*time.Millisecond)
		assert.Equal(t, 1, dropped.n)
	})
}

type blockingWriter struct{}

func (blockingWriter) Write(p []byte) (int, error) {
	select {}
}

// Package logging provides the sidecar's structured JSON logger: a thin
// correlation-aware wrapper over log/slog that injects run_id/test_id from
// an explicitly-propagated correlation.Context and never blocks the caller.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sidecar-observer/runtime/internal/correlation"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// Logger is the minimal interface the rest of the sidecar depends on,
// allowing correlation injection without exposing slog directly.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

// New returns a correlated Logger writing JSON lines via base. If base is
// nil, slog.Default() is used. dropped, if non-nil, is incremented whenever
// a log line could not be delivered because the underlying writer blocked.
func New(base *slog.Logger, dropped metrics.Counter) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base, dropped: dropped}
}

type correlatedLogger struct {
	base    *slog.Logger
	dropped metrics.Counter
	closed  atomic.Bool
}

func (l *correlatedLogger) enrich(ctx context.Context, attrs []any) []any {
	if c, ok := correlation.FromContext(ctx); ok {
		if c.RunID != "" {
			attrs = append(attrs, slog.String("run_id", c.RunID))
		}
		if c.TestID != "" {
			attrs = append(attrs, slog.String("test_id", c.TestID))
		}
		for k, v := range c.Extra {
			attrs = append(attrs, slog.String(k, v))
		}
	}
	return attrs
}

// emit runs the actual slog call on its own goroutine with a short deadline
// so a stalled writer (e.g. a blocked pipe) cannot stall the caller. The
// sidecar's logging contract is "never blocks"; a slow sink degrades to
// dropped log lines, never to a blocked producer.
func (l *correlatedLogger) emit(do func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		do()
	}()
	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		if l.dropped != nil {
			l.dropped.Inc(1)
		}
	}
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	attrs = l.enrich(ctx, attrs)
	l.emit(func() { l.base.InfoContext(ctx, msg, attrs...) })
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	attrs = l.enrich(ctx, attrs)
	l.emit(func() { l.base.WarnContext(ctx, msg, attrs...) })
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	attrs = l.enrich(ctx, attrs)
	l.emit(func() { l.base.ErrorContext(ctx, msg, attrs...) })
}

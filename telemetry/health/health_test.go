package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateRollsUpWorstStatus(t *testing.T) {
	t.Run("any unhealthy probe makes the overall status unhealthy", func(t *testing.T) {
		e := NewEvaluator(time.Hour,
			ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") }),
			ProbeFunc(func(ctx context.Context) ProbeResult { return Unhealthy("b", "broken") }),
		)
		snap := e.Evaluate(context.Background())
		assert.Equal(t, StatusUnhealthy, snap.Overall)
	})

	t.Run("degraded wins over healthy when nothing is unhealthy", func(t *testing.T) {
		e := NewEvaluator(time.Hour,
			ProbeFunc(func(ctx context.Context) ProbeResult { return Healthy("a") }),
			ProbeFunc(func(ctx context.Context) ProbeResult { return Degraded("b", "slow") }),
		)
		snap := e.Evaluate(context.Background())
		assert.Equal(t, StatusDegraded, snap.Overall)
	})

	t.Run("no registered probes reports unknown", func(t *testing.T) {
		e := NewEvaluator(time.Hour)
		snap := e.Evaluate(context.Background())
		assert.Equal(t, StatusUnknown, snap.Overall)
	})
}

func TestEvaluateCachesWithinTTL(t *testing.T) {
	t.Run("a second call within the TTL does not re-invoke probes", func(t *testing.T) {
		calls := 0
		e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
			calls++
			return Healthy("a")
		}))
		e.Evaluate(context.Background())
		e.Evaluate(context.Background())
		assert.Equal(t, 1, calls)
	})

	t.Run("ForceInvalidate makes the next Evaluate recompute immediately", func(t *testing.T) {
		calls := 0
		e := NewEvaluator(time.Hour, ProbeFunc(func(ctx context.Context) ProbeResult {
			calls++
			return Healthy("a")
		}))
		e.Evaluate(context.Background())
		e.ForceInvalidate()
		e.Evaluate(context.Background())
		assert.Equal(t, 2, calls)
	})
}

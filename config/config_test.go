package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	t.Run("the documented defaults pass validation untouched", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, cfg.Validate())
	})
}

func TestValidateRejectsOutOfRangeValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"queue max_size below one", func(c *Config) { c.Queue.MaxSize = 0 }},
		{"queue max_size above the hard cap", func(c *Config) { c.Queue.MaxSize = QueueMaxSizeHardCap + 1 }},
		{"a sampling rate above one", func(c *Config) { c.Sampling.Rates.Events = 1.5 }},
		{"a negative sampling rate", func(c *Config) { c.Sampling.Rates.Logs = -0.1 }},
		{"the metrics stream rate pinned away from 1.0", func(c *Config) { c.Sampling.Rates.Metrics = 0.5 }},
		{"an anomaly boost factor below one", func(c *Config) { c.Sampling.Adaptive.AnomalyBoostFactor = 0.5 }},
		{"max_cpu_percent out of (0,100]", func(c *Config) { c.Resources.MaxCPUPercent = 150 }},
		{"max_memory_mb not positive", func(c *Config) { c.Resources.MaxMemoryMB = 0 }},
		{"an unknown over_budget_action", func(c *Config) { c.Resources.OverBudgetAction = "explode" }},
		{"an out-of-range health port", func(c *Config) { c.Health.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyDefaultsFillsOnlyZeroFields(t *testing.T) {
	t.Run("an explicitly set field survives ApplyDefaults", func(t *testing.T) {
		cfg := Config{Queue: QueueConfig{MaxSize: 42}}
		cfg.ApplyDefaults()
		assert.Equal(t, 42, cfg.Queue.MaxSize)
		assert.Equal(t, Default().Health.Port, cfg.Health.Port)
	})
}

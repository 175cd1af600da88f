package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerLoadWithoutFile(t *testing.T) {
	t.Run("an empty path loads documented defaults at generation one", func(t *testing.T) {
		m := NewManager("")
		require.NoError(t, m.Load())
		cfg := m.Current()
		assert.Equal(t, uint64(1), cfg.Generation)
		assert.Equal(t, DefaultQueueMaxSize, cfg.Queue.MaxSize)
	})
}

func TestManagerLoadFromYAML(t *testing.T) {
	t.Run("a config file on disk overrides the compiled defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sidecar.yaml")
		require.NoError(t, os.WriteFile(path, []byte("queue:\n  max_size: 250\n"), 0o644))

		m := NewManager(path)
		require.NoError(t, m.Load())
		assert.Equal(t, 250, m.Current().Queue.MaxSize)
	})
}

func TestManagerApplyAtomicGenerationBump(t *testing.T) {
	t.Run("Apply validates, swaps, and bumps the generation counter", func(t *testing.T) {
		m := NewManager("")
		require.NoError(t, m.Load())

		candidate := m.Current()
		candidate.Queue.MaxSize = 999
		applied, err := m.Apply(candidate, ChangeHTTPReload)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), applied.Generation)
		assert.Equal(t, 999, m.Current().Queue.MaxSize)
	})

	t.Run("an invalid candidate is rejected and the current snapshot is unchanged", func(t *testing.T) {
		m := NewManager("")
		require.NoError(t, m.Load())

		candidate := m.Current()
		candidate.Queue.MaxSize = -1
		_, err := m.Apply(candidate, ChangeHTTPReload)
		require.Error(t, err)
		assert.Equal(t, DefaultQueueMaxSize, m.Current().Queue.MaxSize)
	})
}

func TestManagerSubscribeReceivesChanges(t *testing.T) {
	t.Run("a subscriber observes a successfully applied change", func(t *testing.T) {
		m := NewManager("")
		require.NoError(t, m.Load())

		ch := make(chan Change, 1)
		m.Subscribe(ch)

		candidate := m.Current()
		candidate.Queue.MaxSize = 500
		_, err := m.Apply(candidate, ChangeHTTPReload)
		require.NoError(t, err)

		select {
		case change := <-ch:
			assert.Equal(t, 500, change.Config.Queue.MaxSize)
		default:
			t.Fatal("expected a change notification")
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Run("SIDECAR_-prefixed environment variables override the loaded config", func(t *testing.T) {
		t.Setenv("SIDECAR_QUEUE_SIZE", "321")
		t.Setenv("SIDECAR_SAMPLE_EVENTS", "0.25")

		m := NewManager("")
		require.NoError(t, m.Load())
		cfg := m.Current()
		assert.Equal(t, 321, cfg.Queue.MaxSize)
		assert.Equal(t, 0.25, cfg.Sampling.Rates.Events)
	})
}

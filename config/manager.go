package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix environment variable overrides must carry.
const EnvPrefix = "SIDECAR_"

// ChangeType enumerates why a ConfigChange was produced.
type ChangeType string

const (
	ChangeFileReload ChangeType = "file_reload"
	ChangeHTTPReload ChangeType = "http_reload"
)

// Change describes one successfully-applied config transition, delivered to
// subscribers of Manager.Subscribe.
type Change struct {
	Config     Config
	ChangeType ChangeType
	ChangedAt  time.Time
	Generation uint64
}

// Manager owns the single validated Config snapshot, exposed to every other
// component as a read-only borrow behind an atomic pointer. Manager mirrors
// the teacher's RuntimeConfigManager/HotReloadSystem pair: YAML load plus
// environment override, validated atomic swap, and an fsnotify-driven watch
// loop, folded into one type because the sidecar has a single config file
// rather than a directory of versioned snapshots.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	gen     atomic.Uint64

	watcher   *fsnotify.Watcher
	watching  atomic.Bool
	listeners []chan<- Change
}

// NewManager constructs a Manager. If path is empty, Load starts from
// documented defaults with only environment overrides applied.
func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load reads the YAML config file (if path is set and exists), applies
// environment variable overrides, fills in defaults, validates, and installs
// the result as generation 1. A fatal startup error (per spec.md §7, failure
// category 4) is returned wrapped with %w so the caller can refuse to reach
// Ready.
func (m *Manager) Load() error {
	cfg := Default()
	if m.path != "" {
		if _, err := os.Stat(m.path); err == nil {
			data, err := os.ReadFile(m.path)
			if err != nil {
				return fmt.Errorf("read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("stat config file: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	cfg.Generation = 1
	m.gen.Store(1)
	m.current.Store(&cfg)
	return nil
}

// Current returns the active, immutable Config snapshot. Safe to call
// concurrently with Apply/Load/watch-driven reloads.
func (m *Manager) Current() Config {
	p := m.current.Load()
	if p == nil {
		d := Default()
		return d
	}
	return *p
}

// Apply validates candidate and, on success, atomically swaps it in as the
// new current snapshot, bumping Generation. Used by both the HTTP reload
// endpoint and the file-watch loop, guaranteeing P6 (no component ever
// observes a mix of old-and-new fields).
func (m *Manager) Apply(candidate Config, changeType ChangeType) (Config, error) {
	candidate.ApplyDefaults()
	if err := candidate.Validate(); err != nil {
		return Config{}, err
	}
	gen := m.gen.Add(1)
	candidate.Generation = gen
	m.current.Store(&candidate)
	m.notify(Change{Config: candidate, ChangeType: changeType, ChangedAt: time.Now(), Generation: gen})
	return candidate, nil
}

// Subscribe registers ch to receive every successfully-applied Change. The
// channel must be buffered or actively drained by the caller; Manager never
// blocks delivery beyond a non-blocking send.
func (m *Manager) Subscribe(ch chan<- Change) {
	m.listeners = append(m.listeners, ch)
}

func (m *Manager) notify(c Change) {
	for _, ch := range m.listeners {
		select {
		case ch <- c:
		default:
		}
	}
}

// WatchReload starts an fsnotify watch on the config file's directory,
// reloading and applying the file whenever it changes on disk. Grounded on
// the teacher's HotReloadSystem watch loop. A no-op if path is empty.
func (m *Manager) WatchReload(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	if !m.watching.CompareAndSwap(false, true) {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	m.watcher = watcher
	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != m.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				m.reloadFromFile()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func (m *Manager) reloadFromFile() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}
	cfg := m.Current()
	cfg.Generation = 0
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return
	}
	applyEnvOverrides(&cfg)
	_, _ = m.Apply(cfg, ChangeFileReload)
}

// applyEnvOverrides overlays SIDECAR_-prefixed environment variables onto
// cfg, per the documented env var table in spec.md §6.
func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupFloat("SIDECAR_SAMPLE_EVENTS"); ok {
		cfg.Sampling.Rates.Events = v
	}
	if v, ok := lookupFloat("SIDECAR_SAMPLE_LOGS"); ok {
		cfg.Sampling.Rates.Logs = v
	}
	if v, ok := lookupFloat("SIDECAR_SAMPLE_PROFILING"); ok {
		cfg.Sampling.Rates.Profiling = v
	}
	if v, ok := lookupFloat("SIDECAR_MAX_CPU"); ok {
		cfg.Resources.MaxCPUPercent = v
	}
	if v, ok := lookupInt("SIDECAR_MAX_MEMORY_MB"); ok {
		cfg.Resources.MaxMemoryMB = v
	}
	if v, ok := lookupInt("SIDECAR_QUEUE_SIZE"); ok {
		cfg.Queue.MaxSize = v
	}
	if v, ok := lookupInt("SIDECAR_HEALTH_PORT"); ok {
		cfg.Health.Port = v
	}
	if v, ok := os.LookupEnv("SIDECAR_HEALTH_BIND"); ok {
		cfg.Health.Bind = v
	}
	if v, ok := os.LookupEnv("SIDECAR_AUTH_TOKEN"); ok {
		cfg.Health.AuthToken = v
	}
	if v, ok := os.LookupEnv("SIDECAR_ENABLED"); ok {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	// SIDECAR_LOG_LEVEL is consumed directly by cmd/sidecar-runtime at
	// startup to build the slog handler; it has no field on Config.
}

func lookupFloat(key string) (float64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

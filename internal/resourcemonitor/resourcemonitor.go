// Package resourcemonitor periodically samples process CPU and resident
// memory, maintains an EWMA-smoothed CPU reading, and enforces the
// configured budget by driving a Normal -> OverBudget -> Recovering -> Normal
// state machine. Grounded on the retrieved ja7ad/consumption package's
// design notes for EWMA smoothing and state transitions, implemented
// against github.com/shirou/gopsutil/v3 rather than hand-rolled /proc
// parsing (see DESIGN.md).
package resourcemonitor

import (
	"context"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/sidecar-observer/runtime/config"
	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/internal/sampler"
	"github.com/sidecar-observer/runtime/telemetry/logging"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// State enumerates the resource-budget state machine's states.
type State string

const (
	StateNormal     State = "normal"
	StateOverBudget State = "over_budget"
	StateRecovering State = "recovering"
)

// Snapshot is the current resource reading plus budget flags, returned by
// CheckResources.
type Snapshot struct {
	CPUPercent       float64
	MemoryMB         float64
	State            State
	CPUOverBudget    bool
	MemoryOverBudget bool
	ProfilingEnabled bool
}

// Monitor samples process resource usage on a ticker and enforces
// config.ResourcesConfig budgets against the Sampler's profiling/events
// streams.
type Monitor struct {
	proc *process.Process

	mu          sync.RWMutex
	cfg         config.ResourcesConfig
	ewmaCPU     float64
	ewmaInit    bool
	state       State
	underBudgetStreak int

	profilingForced   atomic.Bool
	eventsShed        atomic.Bool
	profilingRestoreConfiguredRate float64

	sampler *sampler.Sampler
	logger  logging.Logger

	cpuGauge    metrics.Gauge
	memGauge    metrics.Gauge
	profDisabledCounter metrics.Counter

	lastSnapshot atomic.Value // Snapshot

	overBudgetWarnCount int
}

// Options configures a new Monitor.
type Options struct {
	Resources config.ResourcesConfig
	Sampler   *sampler.Sampler
	Logger    logging.Logger

	CPUGauge            metrics.Gauge
	MemoryGauge         metrics.Gauge
	ProfilingDisabledCounter metrics.Counter
}

// New constructs a Monitor watching the current process.
func New(opts Options) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		proc:                proc,
		cfg:                 opts.Resources,
		state:               StateNormal,
		sampler:             opts.Sampler,
		logger:              opts.Logger,
		cpuGauge:            opts.CPUGauge,
		memGauge:            opts.MemoryGauge,
		profDisabledCounter: opts.ProfilingDisabledCounter,
	}
	m.lastSnapshot.Store(Snapshot{State: StateNormal, ProfilingEnabled: true})
	return m, nil
}

// Reconfigure atomically applies a new resource budget on hot-reload.
func (m *Monitor) Reconfigure(cfg config.ResourcesConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Run drives the periodic sampling loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.RLock()
	interval := m.cfg.CheckInterval
	m.mu.RUnlock()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce(ctx)
			m.mu.RLock()
			newInterval := m.cfg.CheckInterval
			m.mu.RUnlock()
			if newInterval > 0 && newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Monitor) sampleOnce(ctx context.Context) {
	cpuPercent, _ := m.proc.PercentWithContext(ctx, 0)
	memInfo, _ := m.proc.MemoryInfoWithContext(ctx)
	var rssMB float64
	if memInfo != nil {
		rssMB = float64(memInfo.RSS) / (1024 * 1024)
	}

	m.mu.Lock()
	// EWMA with half-life ~= 3*check_interval: alpha = 1 - 0.5^(1/halfLifeSamples)
	const halfLifeSamples = 3.0
	alpha := 1 - math.Pow(0.5, 1.0/halfLifeSamples)
	if !m.ewmaInit {
		m.ewmaCPU = cpuPercent
		m.ewmaInit = true
	} else {
		m.ewmaCPU = alpha*cpuPercent + (1-alpha)*m.ewmaCPU
	}
	smoothedCPU := m.ewmaCPU
	cfg := m.cfg
	m.mu.Unlock()

	if m.cpuGauge != nil {
		m.cpuGauge.Set(smoothedCPU)
	}
	if m.memGauge != nil {
		m.memGauge.Set(rssMB)
	}

	cpuOver := smoothedCPU > cfg.MaxCPUPercent
	memOver := rssMB > float64(cfg.MaxMemoryMB)
	over := cpuOver || memOver

	m.mu.Lock()
	prevState := m.state
	var nextState State
	switch {
	case over:
		nextState = StateOverBudget
		m.underBudgetStreak = 0
	case prevState == StateOverBudget || prevState == StateRecovering:
		m.underBudgetStreak++
		if m.underBudgetStreak >= 2 {
			nextState = StateNormal
		} else {
			nextState = StateRecovering
		}
	default:
		nextState = StateNormal
	}
	m.state = nextState
	m.mu.Unlock()

	if over {
		m.overBudgetWarnCount++
		if m.overBudgetWarnCount == 1 || m.overBudgetWarnCount%10 == 0 {
			if m.logger != nil {
				m.logger.WarnCtx(ctx, "resource budget exceeded",
					"cpu_percent", smoothedCPU, "memory_mb", rssMB,
					"max_cpu_percent", cfg.MaxCPUPercent, "max_memory_mb", cfg.MaxMemoryMB)
			}
		}
		m.applyMitigation(cfg)
	} else {
		m.overBudgetWarnCount = 0
		if nextState == StateNormal {
			m.restoreMitigation()
		}
	}

	if nextState != prevState && m.logger != nil {
		m.logger.InfoCtx(ctx, "resource monitor state transition", "from", string(prevState), "to", string(nextState))
	}

	snap := Snapshot{
		CPUPercent:       smoothedCPU,
		MemoryMB:         rssMB,
		State:            nextState,
		CPUOverBudget:    cpuOver,
		MemoryOverBudget: memOver,
		ProfilingEnabled: !m.profilingForced.Load(),
	}
	m.lastSnapshot.Store(snap)
}

func (m *Monitor) applyMitigation(cfg config.ResourcesConfig) {
	if m.sampler == nil {
		return
	}
	switch cfg.OverBudgetAction {
	case config.ActionDisableProfiling:
		if m.profilingForced.CompareAndSwap(false, true) {
			m.sampler.Override(event.StreamProfiling, 0)
			if m.profDisabledCounter != nil {
				m.profDisabledCounter.Inc(1)
			}
		}
	case config.ActionShedEvents:
		if m.eventsShed.CompareAndSwap(false, true) {
			current := m.sampler.EffectiveRate(event.StreamEvents)
			m.sampler.Override(event.StreamEvents, current/2)
		}
	case config.ActionLogOnly:
		// no mitigation beyond the WARN log already emitted.
	}
}

func (m *Monitor) restoreMitigation() {
	if m.sampler == nil {
		return
	}
	if m.profilingForced.CompareAndSwap(true, false) {
		m.sampler.ClearOverride(event.StreamProfiling)
	}
	if m.eventsShed.CompareAndSwap(true, false) {
		m.sampler.ClearOverride(event.StreamEvents)
	}
}

// CheckResources returns the most recent snapshot plus budget flags,
// without forcing a fresh sample.
func (m *Monitor) CheckResources() Snapshot {
	if s, ok := m.lastSnapshot.Load().(Snapshot); ok {
		return s
	}
	return Snapshot{State: StateNormal, ProfilingEnabled: true}
}

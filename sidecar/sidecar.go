// Package sidecar composes every component into the single explicitly
// constructed Sidecar value, owning the overall lifecycle state machine.
// Grounded on the teacher's engine.Engine facade: one struct holding
// services by reference (never package-level globals), an atomic
// lastHealth tracker for transition detection, and a synchronous
// RegisterEventObserver/dispatchEvent pair for lifecycle notifications.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sidecar-observer/runtime/adapters"
	"github.com/sidecar-observer/runtime/config"
	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/httpapi"
	"github.com/sidecar-observer/runtime/internal/correlation"
	"github.com/sidecar-observer/runtime/internal/drain"
	"github.com/sidecar-observer/runtime/internal/ingestion"
	"github.com/sidecar-observer/runtime/internal/queue"
	"github.com/sidecar-observer/runtime/internal/resourcemonitor"
	"github.com/sidecar-observer/runtime/internal/sampler"
	"github.com/sidecar-observer/runtime/sink"
	"github.com/sidecar-observer/runtime/telemetry/health"
	"github.com/sidecar-observer/runtime/telemetry/logging"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// State enumerates the Sidecar's overall lifecycle state machine:
// Initializing -> Ready -> (Degraded <-> Ready)* -> Draining -> Stopped.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateDraining     State = "draining"
	StateStopped      State = "stopped"
)

// LifecycleEvent is a reduced, stable event passed to registered observers.
type LifecycleEvent struct {
	Time     time.Time
	Category string // "state_change" | "config_reload"; resource monitor transitions are not dispatched
	Detail   string
	Fields   map[string]any
}

// EventObserver receives LifecycleEvent notifications, synchronously and
// with panics recovered, mirroring the teacher's EventObserver contract.
type EventObserver func(ev LifecycleEvent)

// Sidecar is the top-level facade composing every component. Construct one
// with New and call Start before accepting traffic.
type Sidecar struct {
	configManager *config.Manager
	provider      metrics.Provider
	registry      *metrics.Registry
	logger        logging.Logger
	healthEval    *health.Evaluator
	queue         *queue.Queue
	sampler       *sampler.Sampler
	resourceMon   *resourcemonitor.Monitor
	gate          *ingestion.Gate
	drainPool     *drain.Pool
	adapterStore  *adapters.Store
	httpServer    *httpapi.Server
	sink          sink.Sink

	startedAt time.Time
	state     atomic.Value // State

	observersMu sync.RWMutex
	observers   []EventObserver

	lastHealthStatus atomic.Value // string
	errorWindow      *slidingCounter
	queuedWindow     *slidingCounter

	drainCtx    context.Context
	drainCancel context.CancelFunc
}

// Options configures a new Sidecar.
type Options struct {
	ConfigPath     string
	Sink           sink.Sink
	AdapterDir     string
	MetricsBackend string // "prom" | "otel" | "noop"
	LogHandler     slog.Handler
}

// New constructs every service in dependency order (Config -> Metrics ->
// Logger -> Queue, Sampler, ResourceMonitor -> Ingestion -> Drain ->
// adapter store -> health evaluator) but does not yet bind the HTTP listener or start
// background loops; call Start for that. Any error returned here is a
// fatal startup error per spec.md §7 category 4.
func New(opts Options) (*Sidecar, error) {
	s := &Sidecar{sink: opts.Sink}
	if s.sink == nil {
		s.sink = sink.DiscardSink{}
	}
	s.state.Store(StateInitializing)
	s.errorWindow = newSlidingCounter(60 * time.Second)
	s.queuedWindow = newSlidingCounter(60 * time.Second)

	handler := opts.LogHandler
	if handler == nil {
		handler = slog.NewJSONHandler(io.Discard, nil)
	}

	s.configManager = config.NewManager(opts.ConfigPath)
	if err := s.configManager.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := s.configManager.Current()

	base := slog.New(handler)
	s.provider = selectMetricsProvider(opts.MetricsBackend)
	s.registry = metrics.NewRegistry(s.provider)
	s.logger = logging.New(base, s.registry.LogsDroppedTotal)

	s.queue = queue.New(queue.Options{
		MaxSize:        cfg.Queue.MaxSize,
		MaxAge:         cfg.Queue.MaxEventAge,
		DropOnFull:     cfg.Queue.DropOnFull,
		DroppedCounter: s.registry.EventsDroppedTotal,
		SizeGauge:      s.registry.QueueSize,
		UtilGauge:      s.registry.QueueUtilization,
		WaitHistogram:  s.registry.QueueWaitMS,
	})

	s.sampler = sampler.New(sampler.Options{
		Rates: map[event.Stream]float64{
			event.StreamEvents:    cfg.Sampling.Rates.Events,
			event.StreamLogs:      cfg.Sampling.Rates.Logs,
			event.StreamProfiling: cfg.Sampling.Rates.Profiling,
		},
		Adaptive:          cfg.Sampling.Adaptive.Enabled,
		BoostFactor:       cfg.Sampling.Adaptive.AnomalyBoostFactor,
		Decay:             cfg.Sampling.Adaptive.Decay,
		SampledOutCounter: s.registry.EventsSampledOutTotal,
		RateGauge:         s.registry.SamplingRate,
	})

	mon, err := resourcemonitor.New(resourcemonitor.Options{
		Resources:                cfg.Resources,
		Sampler:                  s.sampler,
		Logger:                   s.logger,
		CPUGauge:                 s.registry.CPUUsagePercent,
		MemoryGauge:              s.registry.MemoryUsageMB,
		ProfilingDisabledCounter: s.registry.ProfilingDisabledTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("init resource monitor: %w", err)
	}
	s.resourceMon = mon

	s.gate = &ingestion.Gate{
		Queue:              s.queue,
		Sampler:            s.sampler,
		EventsQueuedTotal:  trackedCounter{inner: s.registry.EventsQueuedTotal, track: s.queuedWindow},
		EventsDroppedTotal: s.registry.EventsDroppedTotal,
		ErrorsTotal:        trackedCounter{inner: s.registry.ErrorsTotal, track: s.errorWindow},
		ProcessingDuration: s.registry.EventProcessingDurationMS,
		Logger:             s.logger,
		Accepting:          s.accepting,
		MaxEventBytes:      event.MaxEventBytes,
	}

	s.drainPool = drain.New(drain.Options{
		Queue:                s.queue,
		Sink:                 s.sink,
		Gate:                 s.gate,
		Logger:               s.logger,
		Workers:              1,
		GetTimeout:           time.Second,
		ShutdownGrace:        5 * time.Second,
		EventsProcessedTotal: s.registry.EventsProcessedTotal,
		// EventsDroppedTotal is left unset: the queue's DrainRemaining already
		// counts shutdown drops on s.registry.EventsDroppedTotal.
	})

	store, err := adapters.NewStore(opts.AdapterDir)
	if err != nil {
		return nil, fmt.Errorf("init adapter store: %w", err)
	}
	s.adapterStore = store

	s.healthEval = health.NewEvaluator(2*time.Second, s.buildProbes()...)

	s.registry.ConfigGeneration.Set(float64(cfg.Generation))
	return s, nil
}

func selectMetricsProvider(backend string) metrics.Provider {
	switch backend {
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "sidecar-observer-runtime"})
	case "noop":
		return metrics.NewNoopProvider()
	default:
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	}
}

// Start transitions Initializing -> Ready, binds the HTTP listener (the
// only fatal-at-startup step), and launches background loops. On success
// the Sidecar accepts Submit/Observe calls.
func (s *Sidecar) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	cfg := s.configManager.Current()

	s.drainCtx, s.drainCancel = context.WithCancel(ctx)
	s.drainPool.Start(s.drainCtx)
	go s.resourceMon.Run(s.drainCtx)

	srv, err := httpapi.NewServer(cfg.Health.Bind, cfg.Health.Port, &httpBackend{s: s})
	if err != nil {
		return fmt.Errorf("start http surface: %w", err)
	}
	s.httpServer = srv

	s.setState(StateReady, "startup complete")
	return nil
}

// Stop transitions to Draining, stops accepting new events, drains the
// queue for shutdown_grace, shuts down the HTTP listener, then transitions
// to Stopped. Idempotent (P7): a second call observes Stopped and returns
// immediately.
func (s *Sidecar) Stop(ctx context.Context) error {
	if s.State() == StateStopped {
		return nil
	}
	s.setState(StateDraining, "shutdown requested")

	// The HTTP listener and the drain pool have no dependency on each other
	// during shutdown, so they are joined concurrently via errgroup rather
	// than shut down one after the other.
	var g errgroup.Group
	g.Go(func() error {
		if s.httpServer == nil {
			return nil
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.drainPool.Shutdown(ctx)
		return nil
	})
	_ = g.Wait()

	if s.drainCancel != nil {
		s.drainCancel()
	}

	s.setState(StateStopped, "shutdown complete")
	return nil
}

func (s *Sidecar) accepting() bool {
	switch s.State() {
	case StateReady, StateDegraded:
		return true
	default:
		return false
	}
}

// State returns the Sidecar's current lifecycle state.
func (s *Sidecar) State() State {
	if v, ok := s.state.Load().(State); ok {
		return v
	}
	return StateInitializing
}

func (s *Sidecar) setState(next State, detail string) {
	prev, _ := s.state.Swap(next).(State)
	if prev == next {
		return
	}
	s.dispatch(LifecycleEvent{
		Time:     time.Now(),
		Category: "state_change",
		Detail:   detail,
		Fields:   map[string]any{"from": string(prev), "to": string(next)},
	})
}

// RegisterEventObserver adds an observer invoked synchronously for every
// lifecycle event. Panics inside an observer are recovered so a misbehaving
// observer can never destabilize the sidecar.
func (s *Sidecar) RegisterEventObserver(obs EventObserver) {
	if obs == nil {
		return
	}
	s.observersMu.Lock()
	s.observers = append(s.observers, obs)
	s.observersMu.Unlock()
}

func (s *Sidecar) dispatch(ev LifecycleEvent) {
	s.observersMu.RLock()
	observers := append([]EventObserver(nil), s.observers...)
	s.observersMu.RUnlock()
	for _, o := range observers {
		func() {
			defer func() { _ = recover() }()
			o(ev)
		}()
	}
}

// Submit enqueues an already-constructed event. Returns true iff enqueued.
func (s *Sidecar) Submit(ctx context.Context, ev event.Event) bool {
	return s.gate.Submit(ctx, ev)
}

// Observe runs fn under the fail-open contract described in spec.md §4.1.
func Observe[T any](ctx context.Context, s *Sidecar, operationName string, fn func(ctx context.Context) (T, error)) (T, bool) {
	return ingestion.Observe(ctx, s.gate, operationName, fn)
}

// WithRunID returns a context carrying runID for correlation, replacing the
// programmatic set_run_id hook from spec.md §6 with explicit, composable
// context propagation (spec.md §9 design note: no implicit thread-locals).
func WithRunID(ctx context.Context, runID string) context.Context {
	c, _ := correlation.FromContext(ctx)
	c.RunID = runID
	return correlation.WithContext(ctx, c)
}

// WithTestID returns a context carrying testID for correlation.
func WithTestID(ctx context.Context, testID string) context.Context {
	c, _ := correlation.FromContext(ctx)
	c.TestID = testID
	return correlation.WithContext(ctx, c)
}

// ClearContext returns a context with no correlation information attached.
func ClearContext(ctx context.Context) context.Context {
	return correlation.WithContext(ctx, correlation.Context{})
}

// ReloadConfig validates and applies a JSON patch over the active config,
// mirroring POST /sidecar/config/reload's contract: unknown fields are
// rejected (json.Decoder.DisallowUnknownFields), valid fields are merged
// onto the current snapshot, then validated and atomically swapped.
func (s *Sidecar) ReloadConfig(body []byte) (config.Config, error) {
	current := s.configManager.Current()
	candidate := current

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	var patch configPatch
	if err := dec.Decode(&patch); err != nil {
		return config.Config{}, fmt.Errorf("invalid config patch: %w", err)
	}
	patch.applyTo(&candidate)

	applied, err := s.configManager.Apply(candidate, config.ChangeHTTPReload)
	if err != nil {
		return config.Config{}, err
	}
	s.onConfigApplied(applied)
	return applied, nil
}

func (s *Sidecar) onConfigApplied(cfg config.Config) {
	s.queue.Reconfigure(cfg.Queue.MaxSize, cfg.Queue.MaxEventAge, cfg.Queue.DropOnFull)
	s.sampler.SetRate(event.StreamEvents, cfg.Sampling.Rates.Events)
	s.sampler.SetRate(event.StreamLogs, cfg.Sampling.Rates.Logs)
	s.sampler.SetRate(event.StreamProfiling, cfg.Sampling.Rates.Profiling)
	s.sampler.ReconfigureAdaptive(cfg.Sampling.Adaptive.Enabled, cfg.Sampling.Adaptive.AnomalyBoostFactor, cfg.Sampling.Adaptive.Decay)
	s.resourceMon.Reconfigure(cfg.Resources)
	s.registry.ConfigGeneration.Set(float64(cfg.Generation))
	s.healthEval.ForceInvalidate()
	s.dispatch(LifecycleEvent{
		Time:     time.Now(),
		Category: "config_reload",
		Detail:   "config applied",
		Fields:   map[string]any{"generation": cfg.Generation},
	})
}

// StateSnapshot is the unified view returned by Snapshot, mirroring the
// teacher's Engine.Snapshot() facade method.
type StateSnapshot struct {
	StartedAt  time.Time                      `json:"started_at"`
	Uptime     time.Duration                  `json:"uptime"`
	State      State                          `json:"state"`
	Queue      queue.Stats                    `json:"queue"`
	Sampler    map[event.Stream]sampler.Stats `json:"sampler"`
	Resources  resourcemonitor.Snapshot       `json:"resources"`
	Generation uint64                         `json:"config_generation"`
}

// Snapshot returns a unified view of queue, sampler, resource monitor, and
// config state for diagnostics and tests.
func (s *Sidecar) Snapshot() StateSnapshot {
	cfg := s.configManager.Current()
	return StateSnapshot{
		StartedAt:  s.startedAt,
		Uptime:     time.Since(s.startedAt),
		State:      s.State(),
		Queue:      s.queue.Stats(),
		Sampler:    s.sampler.AllStats(),
		Resources:  s.resourceMon.CheckResources(),
		Generation: cfg.Generation,
	}
}

// MetricsHandler exposes the configured Provider's HTTP handler, if any.
func (s *Sidecar) MetricsHandler() http.Handler {
	if mp, ok := s.provider.(interface{ MetricsHandler() http.Handler }); ok {
		return mp.MetricsHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "metrics handler unavailable for this backend", http.StatusNotImplemented)
	})
}

// buildProbes constructs the health probes the Evaluator rolls up, grounded
// on the Resource Monitor and queue state the sidecar already tracks.
func (s *Sidecar) buildProbes() []health.Probe {
	return []health.Probe{
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			st := s.queue.Stats()
			switch {
			case st.MaxSize > 0 && st.Utilization >= 0.9:
				return health.Unhealthy("queue", "queue utilization at or above 0.9")
			case st.MaxSize > 0 && st.Utilization >= 0.8:
				return health.Degraded("queue", "queue utilization at or above 0.8")
			default:
				return health.Healthy("queue")
			}
		}),
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			snap := s.resourceMon.CheckResources()
			if snap.CPUOverBudget || snap.MemoryOverBudget {
				return health.Degraded("resources", "resource budget exceeded")
			}
			return health.Healthy("resources")
		}),
		health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
			if s.errorRate() >= 0.1 {
				return health.Degraded("error_rate", "error rate at or above 0.1 over the last 60s")
			}
			return health.Healthy("error_rate")
		}),
	}
}

func (s *Sidecar) errorRate() float64 {
	queued := s.queuedWindow.Sum()
	if queued < 1 {
		queued = 1
	}
	return s.errorWindow.Sum() / queued
}

// HealthView computes the /health response body: a cached overall rollup
// plus the specific issue codes the spec's data model names.
func (s *Sidecar) HealthView() httpapi.HealthView {
	ctx := context.Background()
	snap := s.healthEval.Evaluate(ctx)

	if prev, _ := s.lastHealthStatus.Load().(string); prev != string(snap.Overall) {
		s.lastHealthStatus.Store(string(snap.Overall))
		s.dispatch(LifecycleEvent{
			Time:     time.Now(),
			Category: "state_change",
			Detail:   "health status changed",
			Fields:   map[string]any{"from": prev, "to": string(snap.Overall)},
		})
	}

	cfg := s.configManager.Current()
	qstats := s.queue.Stats()
	rsnap := s.resourceMon.CheckResources()

	var issues []string
	if qstats.MaxSize > 0 && qstats.Utilization >= 0.8 {
		issues = append(issues, "queue_near_capacity")
	}
	if s.errorRate() >= 0.1 {
		issues = append(issues, "high_error_rate")
	}
	if rsnap.CPUOverBudget {
		issues = append(issues, "cpu_over_budget")
	}
	if rsnap.MemoryOverBudget {
		issues = append(issues, "memory_over_budget")
	}
	if !rsnap.ProfilingEnabled {
		issues = append(issues, "profiling_disabled")
	}

	return httpapi.HealthView{
		Status:    string(snap.Overall),
		Enabled:   cfg.Enabled,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Queue: httpapi.QueueView{
			Size:          qstats.CurrentSize,
			Utilization:   qstats.Utilization,
			DroppedEvents: qstats.TotalDropped,
		},
		Resources: httpapi.ResourcesView{
			CPUPercent:       rsnap.CPUPercent,
			MemoryMB:         rsnap.MemoryMB,
			ProfilingEnabled: rsnap.ProfilingEnabled,
		},
		Metrics: httpapi.MetricsView{
			TotalEvents: qstats.TotalEnqueued,
			TotalErrors: uint64(s.errorWindow.Sum()),
			ErrorRate:   s.errorRate(),
			// AvgLatencyMS is not surfaced: the Histogram abstraction only
			// exposes Observe, not a readable sum/count.
		},
		Issues: issues,
	}
}

// ReadyView computes the /ready response body: ready iff the sidecar is
// accepting traffic, the queue has headroom, and the resource monitor is
// not in a sustained over-budget state.
func (s *Sidecar) ReadyView() httpapi.ReadyView {
	cfg := s.configManager.Current()
	qstats := s.queue.Stats()
	rsnap := s.resourceMon.CheckResources()
	ready := s.accepting() && qstats.Utilization < 0.9 && rsnap.State != resourcemonitor.StateOverBudget
	return httpapi.ReadyView{
		Ready:            ready,
		Enabled:          cfg.Enabled,
		QueueUtilization: qstats.Utilization,
		Timestamp:        float64(time.Now().UnixNano()) / 1e9,
	}
}

// httpBackend adapts Sidecar to httpapi.Backend, kept as a thin wrapper so
// httpapi never imports this package directly.
type httpBackend struct{ s *Sidecar }

func (b *httpBackend) HealthView() httpapi.HealthView { return b.s.HealthView() }
func (b *httpBackend) ReadyView() httpapi.ReadyView   { return b.s.ReadyView() }
func (b *httpBackend) MetricsHandler() http.Handler   { return b.s.MetricsHandler() }

func (b *httpBackend) ReloadConfig(body []byte) (any, error) {
	return b.s.ReloadConfig(body)
}

func (b *httpBackend) AdapterNames() []string { return b.s.adapterStore.List() }

func (b *httpBackend) OpenAdapter(name string) (io.ReadCloser, bool) {
	return b.s.adapterStore.Open(name)
}

func (b *httpBackend) AuthToken() string { return b.s.configManager.Current().Health.AuthToken }

// configPatch is the JSON body accepted by POST /sidecar/config/reload: a
// sparse set of fields to overlay onto the active config. Pointer fields
// distinguish "not present" from "present, zero value" the way a PATCH
// semantics requires; unknown fields are rejected by the decoder's
// DisallowUnknownFields, not by this type.
type configPatch struct {
	Enabled   *bool           `json:"enabled,omitempty"`
	Queue     *queuePatch     `json:"queue,omitempty"`
	Sampling  *samplingPatch  `json:"sampling,omitempty"`
	Resources *resourcesPatch `json:"resources,omitempty"`
	Health    *healthPatch    `json:"health,omitempty"`
}

type queuePatch struct {
	MaxSize     *int           `json:"max_size,omitempty"`
	MaxEventAge *time.Duration `json:"max_event_age,omitempty"`
	DropOnFull  *bool          `json:"drop_on_full,omitempty"`
}

type samplingRatesPatch struct {
	Events    *float64 `json:"events,omitempty"`
	Logs      *float64 `json:"logs,omitempty"`
	Profiling *float64 `json:"profiling,omitempty"`
}

type adaptivePatch struct {
	Enabled            *bool          `json:"enabled,omitempty"`
	AnomalyBoostFactor *float64       `json:"anomaly_boost_factor,omitempty"`
	Decay              *time.Duration `json:"decay,omitempty"`
}

type samplingPatch struct {
	Rates    *samplingRatesPatch `json:"rates,omitempty"`
	Adaptive *adaptivePatch      `json:"adaptive,omitempty"`
}

type resourcesPatch struct {
	MaxCPUPercent    *float64                 `json:"max_cpu_percent,omitempty"`
	MaxMemoryMB      *int                     `json:"max_memory_mb,omitempty"`
	CheckInterval    *time.Duration           `json:"check_interval,omitempty"`
	OverBudgetAction *config.OverBudgetAction `json:"over_budget_action,omitempty"`
}

type healthPatch struct {
	Port      *int    `json:"port,omitempty"`
	Bind      *string `json:"bind,omitempty"`
	AuthToken *string `json:"auth_token,omitempty"`
}

func (p configPatch) applyTo(c *config.Config) {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if q := p.Queue; q != nil {
		if q.MaxSize != nil {
			c.Queue.MaxSize = *q.MaxSize
		}
		if q.MaxEventAge != nil {
			c.Queue.MaxEventAge = *q.MaxEventAge
		}
		if q.DropOnFull != nil {
			c.Queue.DropOnFull = *q.DropOnFull
		}
	}
	if sp := p.Sampling; sp != nil {
		if r := sp.Rates; r != nil {
			if r.Events != nil {
				c.Sampling.Rates.Events = *r.Events
			}
			if r.Logs != nil {
				c.Sampling.Rates.Logs = *r.Logs
			}
			if r.Profiling != nil {
				c.Sampling.Rates.Profiling = *r.Profiling
			}
		}
		if a := sp.Adaptive; a != nil {
			if a.Enabled != nil {
				c.Sampling.Adaptive.Enabled = *a.Enabled
			}
			if a.AnomalyBoostFactor != nil {
				c.Sampling.Adaptive.AnomalyBoostFactor = *a.AnomalyBoostFactor
			}
			if a.Decay != nil {
				c.Sampling.Adaptive.Decay = *a.Decay
			}
		}
	}
	if r := p.Resources; r != nil {
		if r.MaxCPUPercent != nil {
			c.Resources.MaxCPUPercent = *r.MaxCPUPercent
		}
		if r.MaxMemoryMB != nil {
			c.Resources.MaxMemoryMB = *r.MaxMemoryMB
		}
		if r.CheckInterval != nil {
			c.Resources.CheckInterval = *r.CheckInterval
		}
		if r.OverBudgetAction != nil {
			c.Resources.OverBudgetAction = *r.OverBudgetAction
		}
	}
	if h := p.Health; h != nil {
		if h.Port != nil {
			c.Health.Port = *h.Port
		}
		if h.Bind != nil {
			c.Health.Bind = *h.Bind
		}
		if h.AuthToken != nil {
			c.Health.AuthToken = *h.AuthToken
		}
	}
}

// trackedCounter wraps a metrics.Counter, additionally recording every
// increment into a slidingCounter so the health rollup can compute a
// windowed rate without scraping the metrics backend.
type trackedCounter struct {
	inner metrics.Counter
	track *slidingCounter
}

func (t trackedCounter) Inc(delta float64, labels ...string) {
	if t.inner != nil {
		t.inner.Inc(delta, labels...)
	}
	if t.track != nil {
		t.track.Add(delta)
	}
}

// slidingCounter sums increments over a trailing time window, pruning
// entries older than the window on every call.
type slidingCounter struct {
	mu      sync.Mutex
	window  time.Duration
	entries []slidingEntry
}

type slidingEntry struct {
	at    time.Time
	delta float64
}

func newSlidingCounter(window time.Duration) *slidingCounter {
	return &slidingCounter{window: window}
}

func (c *slidingCounter) Add(delta float64) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, slidingEntry{at: now, delta: delta})
	c.pruneLocked(now)
}

func (c *slidingCounter) Sum() float64 {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	var total float64
	for _, e := range c.entries {
		total += e.delta
	}
	return total
}

func (c *slidingCounter) pruneLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	i := 0
	for ; i < len(c.entries); i++ {
		if c.entries[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		c.entries = c.entries[i:]
	}
}

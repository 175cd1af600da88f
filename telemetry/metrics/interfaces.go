// Package metrics provides a backend-agnostic metrics provider abstraction
// with Prometheus, OpenTelemetry, and no-op implementations selected by
// configuration.
package metrics

import "context"

// Counter represents a monotonically increasing value.
type Counter interface {
	Inc(delta float64, labels ...string)
}

// Gauge represents a value that can go up or down.
type Gauge interface {
	Set(value float64, labels ...string)
	Add(delta float64, labels ...string)
}

// Histogram records observations into buckets and tracks count + sum.
type Histogram interface {
	Observe(value float64, labels ...string)
}

// Timer is a helper handle for measuring latency.
type Timer interface {
	// ObserveDuration records the time elapsed since the timer was created in seconds.
	ObserveDuration(labels ...string)
}

// Provider is the top-level metrics provider abstraction.
type Provider interface {
	NewCounter(opts CounterOpts) Counter
	NewGauge(opts GaugeOpts) Gauge
	NewHistogram(opts HistogramOpts) Histogram
	NewTimer(h HistogramOpts) func() Timer
	// Health returns an error if the provider is degraded/unhealthy.
	Health(ctx context.Context) error
}

// CommonOpts are fields embedded into each metric option struct.
type CommonOpts struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string
	Labels    []string
}

// CounterOpts options for counters.
type CounterOpts struct{ CommonOpts }

// GaugeOpts options for gauges.
type GaugeOpts struct{ CommonOpts }

// HistogramOpts options for histograms / timers.
type HistogramOpts struct {
	CommonOpts
	Buckets []float64
}

// Registry is the fixed set of metrics the sidecar publishes, matching the
// Metrics Registry data model: counters, gauges, and histograms constructed
// once against a Provider and shared by every component.
type Registry struct {
	EventsQueuedTotal     Counter
	EventsProcessedTotal  Counter
	EventsDroppedTotal    Counter // labeled by reason
	EventsSampledOutTotal Counter // labeled by stream
	ErrorsTotal           Counter // labeled by operation
	ProfilingDisabledTotal Counter
	LogsDroppedTotal      Counter

	QueueSize        Gauge
	QueueUtilization Gauge
	CPUUsagePercent  Gauge
	MemoryUsageMB    Gauge
	SamplingRate     Gauge // labeled by stream
	ConfigGeneration Gauge

	EventProcessingDurationMS Histogram
	QueueWaitMS               Histogram
}

// NewRegistry builds a Registry from the given Provider, registering every
// metric named in the data model up front so later reads never race
// first-use registration.
func NewRegistry(p Provider) *Registry {
	ns := CommonOpts{Namespace: "sidecar"}
	withName := func(name, help string, labels ...string) CommonOpts {
		c := ns
		c.Name = name
		c.Help = help
		c.Labels = labels
		return c
	}
	return &Registry{
		EventsQueuedTotal:      p.NewCounter(CounterOpts{CommonOpts: withName("events_queued_total", "total events that reached queue admission, including ones the queue then dropped")}),
		EventsProcessedTotal:   p.NewCounter(CounterOpts{CommonOpts: withName("events_processed_total", "total events handed to the sink")}),
		EventsDroppedTotal:     p.NewCounter(CounterOpts{CommonOpts: withName("events_dropped_total", "total events dropped", "reason")}),
		EventsSampledOutTotal:  p.NewCounter(CounterOpts{CommonOpts: withName("events_sampled_out_total", "total events rejected by the sampler", "stream")}),
		ErrorsTotal:            p.NewCounter(CounterOpts{CommonOpts: withName("errors_total", "total fail-open recoveries", "operation")}),
		ProfilingDisabledTotal: p.NewCounter(CounterOpts{CommonOpts: withName("profiling_disabled_total", "total times profiling was force-disabled by the resource monitor")}),
		LogsDroppedTotal:       p.NewCounter(CounterOpts{CommonOpts: withName("logs_dropped_total", "total log lines dropped due to a slow sink")}),

		QueueSize:        p.NewGauge(GaugeOpts{CommonOpts: withName("queue_size", "current queue length")}),
		QueueUtilization: p.NewGauge(GaugeOpts{CommonOpts: withName("queue_utilization", "queue length divided by capacity")}),
		CPUUsagePercent:  p.NewGauge(GaugeOpts{CommonOpts: withName("cpu_usage_percent", "smoothed process CPU percentage")}),
		MemoryUsageMB:    p.NewGauge(GaugeOpts{CommonOpts: withName("memory_usage_mb", "process resident memory in MiB")}),
		SamplingRate:     p.NewGauge(GaugeOpts{CommonOpts: withName("sampling_rate", "effective sampling rate", "stream")}),
		ConfigGeneration: p.NewGauge(GaugeOpts{CommonOpts: withName("config_generation", "monotonic count of applied config snapshots")}),

		EventProcessingDurationMS: p.NewHistogram(HistogramOpts{CommonOpts: withName("event_processing_duration_ms", "drain-to-sink latency in milliseconds")}),
		QueueWaitMS:               p.NewHistogram(HistogramOpts{CommonOpts: withName("queue_wait_ms", "time an event spent queued before drain, in milliseconds")}),
	}
}

// Noop implementations -------------------------------------------------------

type noopProvider struct{}

type noopCounter struct{}

type noopGauge struct{}

type noopHistogram struct{}

type noopTimer struct{}

// NewNoopProvider returns a provider that does nothing, used when metrics
// are disabled or during tests that do not assert on metric values.
func NewNoopProvider() Provider { return &noopProvider{} }

func (p *noopProvider) NewCounter(opts CounterOpts) Counter       { return noopCounter{} }
func (p *noopProvider) NewGauge(opts GaugeOpts) Gauge             { return noopGauge{} }
func (p *noopProvider) NewHistogram(opts HistogramOpts) Histogram { return noopHistogram{} }
func (p *noopProvider) NewTimer(h HistogramOpts) func() Timer {
	return func() Timer { return noopTimer{} }
}
func (p *noopProvider) Health(ctx context.Context) error { return nil }

func (noopCounter) Inc(delta float64, labels ...string)       {}
func (noopGauge) Set(value float64, labels ...string)         {}
func (noopGauge) Add(delta float64, labels ...string)         {}
func (noopHistogram) Observe(value float64, labels ...string) {}
func (noopTimer) ObserveDuration(labels ...string)            {}

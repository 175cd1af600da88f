package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegistersEveryMetric(t *testing.T) {
	t.Run("NewRegistry returns a non-nil handle for every named metric", func(t *testing.T) {
		reg := NewRegistry(NewNoopProvider())
		require.NotNil(t, reg.EventsQueuedTotal)
		require.NotNil(t, reg.EventsProcessedTotal)
		require.NotNil(t, reg.EventsDroppedTotal)
		require.NotNil(t, reg.EventsSampledOutTotal)
		require.NotNil(t, reg.ErrorsTotal)
		require.NotNil(t, reg.ProfilingDisabledTotal)
		require.NotNil(t, reg.LogsDroppedTotal)
		require.NotNil(t, reg.QueueSize)
		require.NotNil(t, reg.QueueUtilization)
		require.NotNil(t, reg.CPUUsagePercent)
		require.NotNil(t, reg.MemoryUsageMB)
		require.NotNil(t, reg.SamplingRate)
		require.NotNil(t, reg.ConfigGeneration)
		require.NotNil(t, reg.EventProcessingDurationMS)
		require.NotNil(t, reg.QueueWaitMS)
	})
}

func TestPrometheusProviderExposesMetricsEndpoint(t *testing.T) {
	t.Run("a counter increment is visible on the scrape handler", func(t *testing.T) {
		p := NewPrometheusProvider(PrometheusProviderOptions{})
		counter := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "sidecar", Name: "widgets_total", Help: "widgets"}})
		counter.Inc(3)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		p.MetricsHandler().ServeHTTP(rec, req)

		assert.Contains(t, rec.Body.String(), "sidecar_widgets_total 3")
	})

	t.Run("registering the same metric twice returns the same collector", func(t *testing.T) {
		p := NewPrometheusProvider(PrometheusProviderOptions{})
		opts := CounterOpts{CommonOpts: CommonOpts{Namespace: "sidecar", Name: "dup_total", Help: "dup"}}
		a := p.NewCounter(opts)
		b := p.NewCounter(opts)
		a.Inc(1)
		b.Inc(1)

		rec := httptest.NewRecorder()
		p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, rec.Body.String(), "sidecar_dup_total 2")
	})
}

func TestNoopProviderNeverPanics(t *testing.T) {
	t.Run("every noop metric accepts calls without a backing collector", func(t *testing.T) {
		p := NewNoopProvider()
		p.NewCounter(CounterOpts{}).Inc(1, "label")
		p.NewGauge(GaugeOpts{}).Set(1, "label")
		p.NewHistogram(HistogramOpts{}).Observe(1, "label")
		timer := p.NewTimer(HistogramOpts{})()
		timer.ObserveDuration()
	})
}

func TestOTelProviderBuildsInstruments(t *testing.T) {
	t.Run("counters, gauges, and histograms can be created and recorded without error", func(t *testing.T) {
		p := NewOTelProvider(OTelProviderOptions{ServiceName: "test", LabelKeys: []string{"stream"}})
		counter := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "events"}})
		gauge := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "queue_size"}})
		hist := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "latency"}})

		counter.Inc(1, "events")
		gauge.Set(5, "events")
		gauge.Set(3, "events")
		hist.Observe(12.5, "events")
	})
}

func TestOTelGaugeTracksEachLabelSeriesIndependently(t *testing.T) {
	t.Run("Set on one label combination doesn't diff against another's previous value", func(t *testing.T) {
		p := NewOTelProvider(OTelProviderOptions{LabelKeys: []string{"stream"}})
		g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "sampling_rate", Labels: []string{"stream"}}}).(*otelGauge)

		g.Set(1.0, "events")
		g.Set(0.1, "logs")

		g.mu.Lock()
		eventsPrev := g.values[seriesKey([]string{"events"})]
		logsPrev := g.values[seriesKey([]string{"logs"})]
		g.mu.Unlock()

		assert.Equal(t, 1.0, eventsPrev)
		assert.Equal(t, 0.1, logsPrev)
	})
}

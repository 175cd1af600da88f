// Package sampler implements the sidecar's per-stream Bernoulli sampling
// gate with an optional adaptive boost, grounded on the retrieved
// DataDog trace-agent sampler's atomic-counter/periodic-stats shape and on
// the teacher's internal/ratelimit.AdaptiveRateLimiter sharded-state idiom.
package sampler

import (
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sidecar-observer/runtime/event"
	"github.com/sidecar-observer/runtime/telemetry/metrics"
)

// streamState tracks the rolling counters for one sampling stream.
type streamState struct {
	configuredRate atomic.Uint64 // math.Float64bits

	total   atomic.Uint64
	sampled atomic.Uint64

	// boostExpiresAtNano is a decaying timestamp (UnixNano): while
	// time.Now() is before this value, the adaptive boost is in effect for
	// this stream. Zero means no boost active. The Resource Monitor never
	// writes this field; its override lives on separate fields (see
	// override below) so a monitor-imposed override can never be masked by
	// an adaptive boost racing in.
	boostExpiresAtNano atomic.Int64

	// override, when non-nil (via overrideSet), replaces the configured
	// rate entirely -- written only by the Resource Monitor, read only by
	// the Sampler, breaking the Resource Monitor <-> Sampler cycle with a
	// one-way atomic field per spec.md §9.
	overrideSet  atomic.Bool
	overrideRate atomic.Uint64
}

// Stats reports the per-stream sampling counters.
type Stats struct {
	ConfiguredRate float64
	ActualRate     float64
	TotalEvents    uint64
	SampledEvents  uint64
}

// Sampler holds per-stream Bernoulli gates.
type Sampler struct {
	mu             sync.RWMutex
	streams        map[event.Stream]*streamState
	boostFactor    float64
	boostDecay     time.Duration
	adaptiveOn     bool

	sampledOutCounter metrics.Counter // labeled by stream
	rateGauge         metrics.Gauge   // labeled by stream
}

// Options configures a new Sampler.
type Options struct {
	Rates    map[event.Stream]float64
	Adaptive bool
	BoostFactor float64
	Decay       time.Duration

	SampledOutCounter metrics.Counter
	RateGauge         metrics.Gauge
}

// New constructs a Sampler with the given per-stream configured rates.
func New(opts Options) *Sampler {
	s := &Sampler{
		streams:           make(map[event.Stream]*streamState),
		boostFactor:       opts.BoostFactor,
		boostDecay:        opts.Decay,
		adaptiveOn:        opts.Adaptive,
		sampledOutCounter: opts.SampledOutCounter,
		rateGauge:         opts.RateGauge,
	}
	for stream, rate := range opts.Rates {
		s.setRateLocked(stream, rate)
	}
	// metrics stream always samples at 1.0 regardless of what was passed.
	s.setRateLocked(event.StreamMetrics, 1.0)
	return s
}

func (s *Sampler) stateFor(stream event.Stream) *streamState {
	s.mu.RLock()
	st, ok := s.streams[stream]
	s.mu.RUnlock()
	if ok {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[stream]; ok {
		return st
	}
	st = &streamState{}
	st.configuredRate.Store(floatBits(1.0))
	s.streams[stream] = st
	return st
}

func (s *Sampler) setRateLocked(stream event.Stream, rate float64) {
	st, ok := s.streams[stream]
	if !ok {
		st = &streamState{}
		s.streams[stream] = st
	}
	st.configuredRate.Store(floatBits(rate))
}

// SetRate updates the configured base rate for a stream, used on config
// hot-reload. The metrics stream is pinned at 1.0 and cannot be changed.
func (s *Sampler) SetRate(stream event.Stream, rate float64) {
	if stream == event.StreamMetrics {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRateLocked(stream, rate)
}

// ReconfigureAdaptive updates the adaptive-boost parameters on hot-reload.
func (s *Sampler) ReconfigureAdaptive(enabled bool, boostFactor float64, decay time.Duration) {
	s.mu.Lock()
	s.adaptiveOn = enabled
	s.boostFactor = boostFactor
	s.boostDecay = decay
	s.mu.Unlock()
}

// NoteAnomaly marks the events stream as being inside an anomaly window,
// arming the adaptive boost for boostDecay from now. Implemented as a
// decaying timestamp; no background timer required.
func (s *Sampler) NoteAnomaly() {
	s.mu.RLock()
	enabled, decay := s.adaptiveOn, s.boostDecay
	s.mu.RUnlock()
	if !enabled {
		return
	}
	st := s.stateFor(event.StreamEvents)
	st.boostExpiresAtNano.Store(time.Now().Add(decay).UnixNano())
}

// Override forces the effective rate of stream to rate, bypassing the
// configured/boosted rate, until ClearOverride is called. Written exclusively by
// the Resource Monitor.
func (s *Sampler) Override(stream event.Stream, rate float64) {
	st := s.stateFor(stream)
	st.overrideRate.Store(floatBits(rate))
	st.overrideSet.Store(true)
}

// ClearOverride removes a previously-set override for stream, restoring the
// configured/boosted rate.
func (s *Sampler) ClearOverride(stream event.Stream) {
	st := s.stateFor(stream)
	st.overrideSet.Store(false)
}

// EffectiveRate returns the rate currently in effect for stream: override,
// else adaptively-boosted configured rate, else configured rate.
func (s *Sampler) EffectiveRate(stream event.Stream) float64 {
	if stream == event.StreamMetrics {
		return 1.0
	}
	st := s.stateFor(stream)
	if st.overrideSet.Load() {
		return floatFromBits(st.overrideRate.Load())
	}
	base := floatFromBits(st.configuredRate.Load())
	if stream == event.StreamEvents {
		s.mu.RLock()
		factor := s.boostFactor
		s.mu.RUnlock()
		expiry := st.boostExpiresAtNano.Load()
		if expiry != 0 && time.Now().UnixNano() < expiry {
			boosted := base * factor
			if boosted > 1.0 {
				boosted = 1.0
			}
			return boosted
		}
	}
	return base
}

// ShouldSample draws a uniform random value and compares it against the
// event's stream's effective rate, recording total/sampled counters.
// ev.Anomaly, if set, arms the adaptive boost before the draw.
func (s *Sampler) ShouldSample(ev event.Event) bool {
	if ev.Anomaly {
		s.NoteAnomaly()
	}
	if ev.Stream == event.StreamMetrics {
		return true
	}
	st := s.stateFor(ev.Stream)
	st.total.Add(1)
	rate := s.EffectiveRate(ev.Stream)
	sampled := rate >= 1.0 || rand.Float64() < rate
	if sampled {
		st.sampled.Add(1)
	} else if s.sampledOutCounter != nil {
		s.sampledOutCounter.Inc(1, string(ev.Stream))
	}
	if s.rateGauge != nil {
		s.rateGauge.Set(rate, string(ev.Stream))
	}
	return sampled
}

// Stats returns the sampling statistics for a single stream.
func (s *Sampler) Stats(stream event.Stream) Stats {
	st := s.stateFor(stream)
	total := st.total.Load()
	sampled := st.sampled.Load()
	actual := 0.0
	if total > 0 {
		actual = float64(sampled) / float64(total)
	}
	return Stats{
		ConfiguredRate: floatFromBits(st.configuredRate.Load()),
		ActualRate:     actual,
		TotalEvents:    total,
		SampledEvents:  sampled,
	}
}

// AllStats returns a snapshot across every stream the sampler has observed
// or was configured with.
func (s *Sampler) AllStats() map[event.Stream]Stats {
	s.mu.RLock()
	streams := make([]event.Stream, 0, len(s.streams))
	for stream := range s.streams {
		streams = append(streams, stream)
	}
	s.mu.RUnlock()
	out := make(map[event.Stream]Stats, len(streams))
	for _, stream := range streams {
		out[stream] = s.Stats(stream)
	}
	return out
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

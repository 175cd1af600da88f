// Package httpapi exposes the sidecar's HTTP surface: health, readiness,
// Prometheus metrics, config reload, and adapter-archive distribution.
// Grounded on the teacher's packages/adapters/telemetryhttp/handlers.go
// (health/ready JSON handlers keyed off a health snapshot, a cached
// previous-status tracker)
// and extended with the config-reload and adapter endpoints spec.md
// requires. Uses only net/http — no framework dependency, per the
// teacher's own design note that the HTTP surface needs none.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// HealthView is the JSON body for GET /health.
type HealthView struct {
	Status    string          `json:"status"`
	Enabled   bool            `json:"enabled"`
	Timestamp float64         `json:"timestamp"`
	Queue     QueueView       `json:"queue"`
	Resources ResourcesView   `json:"resources"`
	Metrics   MetricsView     `json:"metrics"`
	Issues    []string        `json:"issues"`
}

type QueueView struct {
	Size          int     `json:"size"`
	Utilization   float64 `json:"utilization"`
	DroppedEvents uint64  `json:"dropped_events"`
}

type ResourcesView struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryMB         float64 `json:"memory_mb"`
	ProfilingEnabled bool    `json:"profiling_enabled"`
}

type MetricsView struct {
	TotalEvents  uint64  `json:"total_events"`
	TotalErrors  uint64  `json:"total_errors"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// ReadyView is the JSON body for GET /ready.
type ReadyView struct {
	Ready            bool    `json:"ready"`
	Enabled          bool    `json:"enabled"`
	QueueUtilization float64 `json:"queue_utilization"`
	Timestamp        float64 `json:"timestamp"`
}

// Backend is the narrow surface httpapi needs from the sidecar facade,
// kept as an interface so handlers can be tested without constructing the
// full Sidecar.
type Backend interface {
	HealthView() HealthView
	ReadyView() ReadyView
	MetricsHandler() http.Handler
	ReloadConfig(body []byte) (any, error)
	AdapterNames() []string
	OpenAdapter(name string) (io.ReadCloser, bool)
	AuthToken() string
}

// NewMux builds the sidecar's HTTP surface.
func NewMux(backend Backend, clock func() time.Time) *http.ServeMux {
	if clock == nil {
		clock = time.Now
	}
	mux := http.NewServeMux()
	tracker := &readinessTracker{}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		view := backend.HealthView()
		tracker.update(view.Status, clock())
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		view := backend.ReadyView()
		status := http.StatusOK
		if !view.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, view)
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		h := backend.MetricsHandler()
		if h == nil {
			http.Error(w, "metrics unavailable", http.StatusNotImplemented)
			return
		}
		h.ServeHTTP(w, r)
	})

	mux.HandleFunc("POST /sidecar/config/reload", func(w http.ResponseWriter, r *http.Request) {
		if token := backend.AuthToken(); token != "" {
			if !validBearer(r, token) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
			return
		}
		cfg, err := backend.ReloadConfig(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	})

	mux.HandleFunc("GET /adapters", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, backend.AdapterNames())
	})

	mux.HandleFunc("GET /adapters/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		rc, ok := backend.OpenAdapter(name)
		if !ok {
			http.NotFound(w, r)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/gzip")
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, rc)
	})

	return mux
}

func validBearer(r *http.Request, token string) bool {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return false
	}
	return strings.TrimPrefix(h, prefix) == token
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// readinessTracker remembers the previously-reported status and when it
// last changed, mirroring the teacher's atomic.Value-based tracker; kept
// here in case future endpoints want to report status transitions.
type readinessTracker struct {
	lastStatus atomic.Value
	changedAt  atomic.Value
}

func (rt *readinessTracker) update(cur string, now time.Time) (prev string, changedAt time.Time) {
	if raw := rt.lastStatus.Load(); raw != nil {
		prev = raw.(string)
	}
	if prev != cur {
		rt.lastStatus.Store(cur)
		rt.changedAt.Store(now)
		return prev, now
	}
	if raw := rt.changedAt.Load(); raw != nil {
		changedAt = raw.(time.Time)
	}
	return prev, changedAt
}

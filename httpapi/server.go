package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Server wraps the sidecar's HTTP listener so startup bind failures (the
// one fatal-at-startup condition from spec.md §7) are surfaced distinctly
// from later runtime errors.
type Server struct {
	httpServer *http.Server
}

// NewServer binds bind:port immediately so a bad address fails fast during
// Sidecar startup rather than on the first request.
func NewServer(bind string, port int, backend Backend) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", bind, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind health endpoint %s: %w", addr, err)
	}
	mux := NewMux(backend, time.Now)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s := &Server{httpServer: srv}
	go func() {
		_ = srv.Serve(listener)
	}()
	return s, nil
}

// Shutdown gracefully stops the HTTP listener, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Command sidecar-runtime starts the sidecar observer daemon: it loads
// config, wires every component, binds the health/metrics HTTP surface, and
// runs until signalled, draining in-flight events before exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sidecar-observer/runtime/sidecar"
)

func main() {
	var (
		configPath     string
		adapterDir     string
		metricsBackend string
		showVersion    bool
		shutdownGrace  time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to the sidecar's YAML config file")
	flag.StringVar(&adapterDir, "adapter-dir", "", "Directory of adapter archives served over /adapters")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.DurationVar(&shutdownGrace, "shutdown-timeout", 10*time.Second, "Maximum time to wait for a graceful shutdown")
	flag.Parse()

	if showVersion {
		fmt.Println("sidecar-runtime")
		return
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevelFromEnv()})
	log.SetFlags(0)

	s, err := sidecar.New(sidecar.Options{
		ConfigPath:     configPath,
		AdapterDir:     adapterDir,
		MetricsBackend: metricsBackend,
		LogHandler:     handler,
	})
	if err != nil {
		log.Fatalf("initialize sidecar: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		log.Fatalf("start sidecar: %v", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.New(handler).Info("shutdown signal received, draining")

	go func() {
		<-sigCh
		slog.New(handler).Warn("second signal received, forcing exit")
		os.Exit(1)
	}()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		log.Fatalf("shutdown sidecar: %v", err)
	}
}

// logLevelFromEnv reads SIDECAR_LOG_LEVEL directly since it has no field on
// config.Config: it governs the slog handler built before any config is
// loaded, not a hot-reloadable runtime setting.
func logLevelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("SIDECAR_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

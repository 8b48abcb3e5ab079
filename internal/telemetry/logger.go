// Package telemetry builds the zap logger shared by all three binaries and
// provides the Prometheus registry and /metrics server; collectors (such as
// the pool gauges) are registered into that registry by their own packages.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildLogger constructs a zap logger at the given level. "debug" uses the
// development config (human-readable, caller info); anything else uses the
// production JSON config, with level clamped to one of the four named
// levels.
func BuildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// MetricsHandler returns the HTTP handler serving the given registerer's
// metrics in Prometheus text exposition format.
func MetricsHandler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// NewRegistry creates a fresh, process-local metrics registry — each
// Dispatcher replica exposes its own /metrics rather than sharing a global
// default registry, so the pool gauges never leak across test runs.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ServeMetrics runs an HTTP server exposing reg's metrics at /metrics on
// addr, blocking until ctx is cancelled, at which point it shuts down
// gracefully.
func ServeMetrics(ctx context.Context, addr string, reg prometheus.Gatherer, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("telemetry: metrics server error: %w", err)
	}
	return nil
}

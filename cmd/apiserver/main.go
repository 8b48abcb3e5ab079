// Command apiserver runs the Directory: the standalone, process-global
// service holding {replica_id -> (endpoint, capabilities)} for every
// connected Dispatcher replica, and answering capability-query routing
// lookups used for cross-replica delegation (§4.8).
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/config"
	"github.com/simpx/anyserve/internal/directory"
	"github.com/simpx/anyserve/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg, err := config.Load[config.APIServerConfig]()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "apiserver",
		Short: "Directory — tracks connected Dispatcher replicas and answers routing lookups",
		Long: `The Directory is a standalone, out-of-band service: Dispatcher replicas
register over a long-lived control stream and stay listed for exactly as
long as that stream is open. Peer Dispatchers query it to find a replica
offering a capability they cannot serve locally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&cfg.RouteRateLimit, "route-rate-limit", cfg.RouteRateLimit, "Requests per minute per client IP against GET /route")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("apiserver %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.APIServerConfig) error {
	logger, err := telemetry.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting directory",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := directory.NewHub(logger)
	go hub.Run(ctx)

	router := directory.NewRouter(directory.RouterConfig{
		Hub:            hub,
		Logger:         logger,
		RouteRateLimit: cfg.RouteRateLimit,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down directory")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("directory stopped")
	return nil
}

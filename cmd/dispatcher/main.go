// Command dispatcher runs the Dispatch service, the Management service, and
// the Worker supervisor in a single process (§0): it accepts client
// inference requests, routes them to locally-supervised Worker processes
// or delegates to a peer Dispatcher via the Directory, and keeps its own
// Registry up to date as Workers register, heartbeat, and exit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/config"
	"github.com/simpx/anyserve/internal/directoryclient"
	"github.com/simpx/anyserve/internal/dispatch"
	"github.com/simpx/anyserve/internal/management"
	"github.com/simpx/anyserve/internal/pool"
	"github.com/simpx/anyserve/internal/registry"
	"github.com/simpx/anyserve/internal/supervisor"
	"github.com/simpx/anyserve/internal/telemetry"
	"github.com/simpx/anyserve/internal/workerclient"
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
	cfg, err := config.Load[config.DispatcherConfig]()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "dispatcher",
		Short: "Dispatcher — routes inference requests to supervised Worker processes",
		Long: `Dispatcher is the client-facing component of anyserve. It exposes a
gRPC inference service, supervises one or more Worker child processes,
and registers with the Directory so it can delegate requests it cannot
serve locally to peers. It registers an empty capability list, so peer
capability lookups never select this replica.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.ReplicaID, "replica-id", cfg.ReplicaID, "Unique ID this replica presents to the Directory (random UUID if empty)")
	root.PersistentFlags().StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC inference service listen address")
	root.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	root.PersistentFlags().StringVar(&cfg.DirectoryAddr, "directory-addr", cfg.DirectoryAddr, "Directory base HTTP address (empty disables registration and delegation)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&cfg.MaxConnsPerWorker, "max-conns-per-worker", cfg.MaxConnsPerWorker, "Maximum pooled connections per Worker endpoint")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dispatcher %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.DispatcherConfig) error {
	logger, err := telemetry.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.ReplicaID == "" {
		cfg.ReplicaID = uuid.NewString()
	}

	logger.Info("starting dispatcher",
		zap.String("version", version),
		zap.String("replica_id", cfg.ReplicaID),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("directory_addr", cfg.DirectoryAddr),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registryReg := registry.New(logger)

	metricsRegistry := telemetry.NewRegistry()
	connPool := pool.New(pool.Options{
		MaxConnectionsPerEndpoint: cfg.MaxConnsPerWorker,
		Logger:                    logger,
		Registerer:                metricsRegistry,
	})
	worker := workerclient.New(connPool, logger)

	mgmt := management.New(registryReg, logger)
	pruner, err := management.NewPruner(mgmt, management.PruneConfig{
		Interval:   cfg.PruneInterval,
		StaleAfter: cfg.StaleAfter,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create stale-worker pruner: %w", err)
	}
	if err := pruner.Start(); err != nil {
		return fmt.Errorf("failed to start stale-worker pruner: %w", err)
	}
	defer func() {
		if err := pruner.Stop(); err != nil {
			logger.Warn("pruner shutdown error", zap.Error(err))
		}
	}()

	var delegator dispatch.Delegator
	if cfg.DirectoryAddr != "" {
		dc := directoryclient.New(directoryclient.Config{
			DirectoryAddr: cfg.DirectoryAddr,
			ReplicaID:     cfg.ReplicaID,
			Endpoint:      cfg.GRPCAddr,
		}, logger)
		go dc.Run(ctx)
		delegator = dc
	} else {
		logger.Warn("no directory-addr configured — this replica will not register for delegation and cannot delegate on a local miss")
	}

	if cfg.WorkerCommand != "" {
		workerID := uuid.NewString()
		socketPath := filepath.Join(cfg.SocketDir, workerID+".sock")
		if err := os.MkdirAll(cfg.SocketDir, 0o750); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}

		w, err := supervisor.Spawn(ctx, supervisor.Config{
			Command:    cfg.WorkerCommand,
			Args:       cfg.WorkerArgs,
			SocketPath: socketPath,
			WorkerID:   workerID,
		}, logger, supervisor.UnregisterOnExit(registryReg, logger))
		if err != nil {
			return fmt.Errorf("failed to spawn managed worker: %w", err)
		}
		defer w.Stop(context.Background())
	}

	svc := dispatch.New(registryReg, worker, delegator, dispatch.Config{
		ServerName:    cfg.ServerName,
		ServerVersion: cfg.ServerVersion,
		ModelPlatform: cfg.ModelPlatform,
		ReplicaID:     cfg.ReplicaID,
	}, logger)
	svc.SetReady(true)

	go func() {
		if err := svc.Serve(ctx, cfg.GRPCAddr, management.RegisterOn(mgmt)); err != nil {
			logger.Error("dispatch server error", zap.Error(err))
			cancel()
		}
	}()

	go func() {
		if err := telemetry.ServeMetrics(ctx, cfg.MetricsAddr, metricsRegistry, logger); err != nil {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("dispatcher stopped")
	return nil
}

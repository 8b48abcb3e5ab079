// Command devworker is a minimal reference Worker implementing two toy
// models, "add" and "echo", over the Dispatcher's length-prefixed local
// socket wire format (§6). It exists to give the supervisor a real child
// process to exercise: it honors the ANYSERVE_SOCKET_PATH / ANYSERVE_READY_FD
// child-process contract, registers its models with the Management
// service, and sends periodic heartbeats with an optional resource
// snapshot.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/simpx/anyserve/internal/config"
	"github.com/simpx/anyserve/internal/framing"
	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/management"
	"github.com/simpx/anyserve/internal/supervisor"
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
	cfg, err := config.Load[config.DevWorkerConfig]()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:   "devworker",
		Short: "devworker — reference Worker implementing the add and echo models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), &cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.WorkerID, "worker-id", cfg.WorkerID, "Worker ID presented to the Management service (random UUID if empty)")
	root.PersistentFlags().StringVar(&cfg.ManagementAddr, "management-addr", cfg.ManagementAddr, "Dispatcher's Management gRPC address")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	root.PersistentFlags().DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "Interval between Heartbeat RPCs")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("devworker %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config.DevWorkerConfig) error {
	logger, err := telemetry.BuildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.WorkerID == "" {
		cfg.WorkerID = uuid.NewString()
	}

	socketPath := os.Getenv(supervisor.EnvSocketPath)
	if socketPath == "" {
		return fmt.Errorf("%s is not set; devworker must be launched by the dispatcher supervisor", supervisor.EnvSocketPath)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer ln.Close()

	if err := signalReady(); err != nil {
		logger.Warn("failed to signal readiness", zap.Error(err))
	}

	endpoint := "unix://" + socketPath

	conn, err := grpc.NewClient(cfg.ManagementAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to dial management service: %w", err)
	}
	defer conn.Close()
	mgmt := inferencewire.NewManagementClient(conn)

	for _, m := range servedModels {
		if _, err := mgmt.RegisterModel(ctx, &inferencewire.RegisterModelRequest{
			ModelName:     m.name,
			ModelVersion:  m.version,
			WorkerAddress: endpoint,
			WorkerID:      cfg.WorkerID,
		}); err != nil {
			logger.Warn("failed to register model", zap.String("model", m.name), zap.Error(err))
		}
	}

	go heartbeatLoop(ctx, mgmt, cfg, logger)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("devworker listening", zap.String("socket", socketPath), zap.String("worker_id", cfg.WorkerID))

	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("accept error", zap.Error(err))
			continue
		}
		go handleConn(c, logger)
	}

	for _, m := range servedModels {
		_, _ = mgmt.UnregisterModel(context.Background(), &inferencewire.UnregisterModelRequest{
			ModelName: m.name, ModelVersion: m.version, WorkerID: cfg.WorkerID,
		})
	}

	logger.Info("devworker stopped")
	return nil
}

type modelSpec struct {
	name, version string
}

var servedModels = []modelSpec{
	{name: "add"},
	{name: "echo"},
}

// signalReady writes the one-shot readiness byte to the inherited file
// descriptor named by ANYSERVE_READY_FD, per the supervisor contract.
func signalReady() error {
	fdStr := os.Getenv(supervisor.EnvReadyFD)
	if fdStr == "" {
		return fmt.Errorf("%s is not set", supervisor.EnvReadyFD)
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", supervisor.EnvReadyFD, err)
	}
	f := os.NewFile(uintptr(fd), "readiness")
	defer f.Close()
	_, err = f.Write([]byte{1})
	return err
}

func handleConn(c net.Conn, logger *zap.Logger) {
	defer c.Close()
	for {
		reqBytes, err := framing.Read(c)
		if err != nil {
			return
		}

		var req inferencewire.ModelInferRequest
		if err := json.Unmarshal(reqBytes, &req); err != nil {
			logger.Warn("failed to parse request", zap.Error(err))
			return
		}

		resp, err := serve(&req)
		if err != nil {
			logger.Warn("model execution failed", zap.String("model", req.ModelName), zap.Error(err))
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			logger.Warn("failed to serialize response", zap.Error(err))
			return
		}
		if err := framing.Write(c, respBytes); err != nil {
			return
		}
	}
}

// serve dispatches to the toy model implementation by name. "add" sums
// Inputs[0] and Inputs[1] element-wise; "echo" returns Inputs unchanged as
// Outputs.
func serve(req *inferencewire.ModelInferRequest) (*inferencewire.ModelInferResponse, error) {
	switch req.ModelName {
	case "add":
		if len(req.Inputs) < 2 {
			return nil, fmt.Errorf("add requires two input tensors, got %d", len(req.Inputs))
		}
		a, b := req.Inputs[0].Int64Contents, req.Inputs[1].Int64Contents
		sum := make([]int64, min(len(a), len(b)))
		for i := range sum {
			sum[i] = a[i] + b[i]
		}
		return &inferencewire.ModelInferResponse{
			ModelName: req.ModelName, ModelVersion: req.ModelVersion, ID: req.ID,
			Outputs: []inferencewire.Tensor{
				{Name: "sum", Datatype: "INT64", Shape: []int64{int64(len(sum))}, Int64Contents: sum},
			},
		}, nil
	case "echo":
		return &inferencewire.ModelInferResponse{
			ModelName: req.ModelName, ModelVersion: req.ModelVersion, ID: req.ID,
			Outputs: echoOutputs(req.Inputs),
		}, nil
	default:
		return nil, fmt.Errorf("devworker does not implement model %q", req.ModelName)
	}
}

func echoOutputs(inputs []inferencewire.Tensor) []inferencewire.Tensor {
	out := make([]inferencewire.Tensor, len(inputs))
	copy(out, inputs)
	return out
}

func heartbeatLoop(ctx context.Context, mgmt inferencewire.ManagementClient, cfg *config.DevWorkerConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	names := make([]string, len(servedModels))
	for i, m := range servedModels {
		names[i] = m.name
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			usage, err := management.CollectResourceUsage(int32(os.Getpid()))
			if err != nil {
				logger.Debug("resource snapshot unavailable", zap.Error(err))
				usage = nil
			}
			if _, err := mgmt.Heartbeat(ctx, &inferencewire.HeartbeatRequest{
				WorkerID: cfg.WorkerID, ModelNames: names, ResourceUsage: usage,
			}); err != nil {
				logger.Warn("heartbeat failed", zap.Error(err))
			}
		}
	}
}

// Package management implements the Management service: registration,
// deregistration, and heartbeat RPCs consumed by local Workers. It has no
// port of its own: RegisterOn adds it to the Dispatcher's single gRPC
// listener, next to the Dispatch service. It is the Registry's sole
// mutator from outside the Dispatcher process.
package management

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/registry"
)

// Service implements inferencewire.ManagementServer.
type Service struct {
	registry *registry.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]time.Time // worker_id -> last Heartbeat/RegisterModel time
}

// New creates a Service backed by reg.
func New(reg *registry.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: reg,
		logger:   logger.Named("management"),
		lastSeen: make(map[string]time.Time),
	}
}

// RegisterModel delegates to Registry.Register and always reports success,
// per §4.6.
func (s *Service) RegisterModel(ctx context.Context, req *inferencewire.RegisterModelRequest) (*inferencewire.RegisterModelResponse, error) {
	s.registry.Register(req.ModelName, req.ModelVersion, req.WorkerAddress, req.WorkerID)
	s.touch(req.WorkerID)

	s.logger.Info("model registered",
		zap.String("model_name", req.ModelName),
		zap.String("model_version", req.ModelVersion),
		zap.String("worker_id", req.WorkerID),
	)
	return &inferencewire.RegisterModelResponse{Success: true, Message: "registered"}, nil
}

// UnregisterModel delegates to Registry.UnregisterModel; success reflects
// whether an entry was actually removed.
func (s *Service) UnregisterModel(ctx context.Context, req *inferencewire.UnregisterModelRequest) (*inferencewire.UnregisterModelResponse, error) {
	removed := s.registry.UnregisterModel(req.ModelName, req.ModelVersion, req.WorkerID)

	msg := "removed"
	if !removed {
		msg = "no matching entry"
	}
	s.logger.Info("model unregister requested",
		zap.String("model_name", req.ModelName),
		zap.String("worker_id", req.WorkerID),
		zap.Bool("removed", removed),
	)
	return &inferencewire.UnregisterModelResponse{Success: removed, Message: msg}, nil
}

// Heartbeat records the worker's liveness for the stale-worker pruning
// sweep and reports healthy. The optional ResourceUsage is only logged at
// debug level for observability; it is not retained, and never affects
// routing or the registry invariants —
// a Worker that omits it still gets a healthy response, matching §4.6's
// "MUST accept the call" requirement.
func (s *Service) Heartbeat(ctx context.Context, req *inferencewire.HeartbeatRequest) (*inferencewire.HeartbeatResponse, error) {
	s.touch(req.WorkerID)

	if req.ResourceUsage != nil {
		s.logger.Debug("heartbeat resource snapshot",
			zap.String("worker_id", req.WorkerID),
			zap.Float64("cpu_percent", req.ResourceUsage.CPUPercent),
			zap.Uint64("memory_rss_bytes", req.ResourceUsage.MemoryRSSBytes),
		)
	}
	return &inferencewire.HeartbeatResponse{Healthy: true}, nil
}

func (s *Service) touch(workerID string) {
	if workerID == "" {
		return
	}
	s.mu.Lock()
	s.lastSeen[workerID] = time.Now()
	s.mu.Unlock()
}

// staleWorkers returns every worker_id whose last Heartbeat/RegisterModel
// predates the cutoff. Used by the pruning sweep in prune.go.
func (s *Service) staleWorkers(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for workerID, seen := range s.lastSeen {
		if seen.Before(cutoff) {
			stale = append(stale, workerID)
		}
	}
	return stale
}

// forget drops bookkeeping for a worker that has just been pruned, so a
// dead worker_id does not reappear in future staleWorkers scans.
func (s *Service) forget(workerID string) {
	s.mu.Lock()
	delete(s.lastSeen, workerID)
	s.mu.Unlock()
}

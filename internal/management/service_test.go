package management

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/registry"
)

func newTestService() (*Service, *registry.Registry) {
	reg := registry.New(zap.NewNop())
	return New(reg, zap.NewNop()), reg
}

func TestRegisterModelAlwaysSucceeds(t *testing.T) {
	svc, reg := newTestService()

	resp, err := svc.RegisterModel(context.Background(), &inferencewire.RegisterModelRequest{
		ModelName:     "add",
		WorkerAddress: "unix:///tmp/w0.sock",
		WorkerID:      "w0",
	})
	if err != nil || !resp.Success {
		t.Fatalf("RegisterModel() = %+v, %v, want success", resp, err)
	}

	if _, err := reg.Lookup("add", ""); err != nil {
		t.Errorf("expected registry entry to exist, Lookup() error = %v", err)
	}
}

func TestUnregisterModelReportsWhetherRemoved(t *testing.T) {
	svc, _ := newTestService()

	svc.RegisterModel(context.Background(), &inferencewire.RegisterModelRequest{
		ModelName: "add", WorkerAddress: "unix:///tmp/w0.sock", WorkerID: "w0",
	})

	resp, err := svc.UnregisterModel(context.Background(), &inferencewire.UnregisterModelRequest{
		ModelName: "add", WorkerID: "w0",
	})
	if err != nil || !resp.Success {
		t.Fatalf("UnregisterModel() = %+v, %v, want success", resp, err)
	}

	resp, err = svc.UnregisterModel(context.Background(), &inferencewire.UnregisterModelRequest{
		ModelName: "add", WorkerID: "w0",
	})
	if err != nil || resp.Success {
		t.Fatalf("second UnregisterModel() = %+v, %v, want success=false", resp, err)
	}
}

func TestHeartbeatAlwaysHealthy(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Heartbeat(context.Background(), &inferencewire.HeartbeatRequest{WorkerID: "w0"})
	if err != nil || !resp.Healthy {
		t.Fatalf("Heartbeat() = %+v, %v, want healthy=true", resp, err)
	}
}

func TestHeartbeatWithResourceUsageDoesNotError(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.Heartbeat(context.Background(), &inferencewire.HeartbeatRequest{
		WorkerID: "w0",
		ResourceUsage: &inferencewire.ResourceUsage{
			CPUPercent:     12.5,
			MemoryRSSBytes: 1024 * 1024,
		},
	})
	if err != nil || !resp.Healthy {
		t.Fatalf("Heartbeat() = %+v, %v, want healthy=true", resp, err)
	}
}

func TestStaleWorkersPrunedByPruner(t *testing.T) {
	svc, reg := newTestService()
	reg.Register("add", "", "unix:///tmp/w0.sock", "w0")
	svc.touch("w0")

	// Force the worker's last-seen timestamp into the past so it appears
	// stale without needing to sleep in the test.
	svc.mu.Lock()
	svc.lastSeen["w0"] = time.Now().Add(-1 * time.Hour)
	svc.mu.Unlock()

	pruner, err := NewPruner(svc, PruneConfig{Interval: time.Millisecond, StaleAfter: time.Minute}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}
	pruner.sweep()

	if _, err := reg.Lookup("add", ""); err == nil {
		t.Error("expected stale worker's models to be pruned")
	}
}

func TestFreshWorkerNotPruned(t *testing.T) {
	svc, reg := newTestService()
	reg.Register("add", "", "unix:///tmp/w0.sock", "w0")
	svc.touch("w0")

	pruner, err := NewPruner(svc, PruneConfig{Interval: time.Millisecond, StaleAfter: time.Hour}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPruner() error = %v", err)
	}
	pruner.sweep()

	if _, err := reg.Lookup("add", ""); err != nil {
		t.Error("expected fresh worker's models to survive the sweep")
	}
}

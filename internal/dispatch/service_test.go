package dispatch

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/simpx/anyserve/internal/capability"
	"github.com/simpx/anyserve/internal/framing"
	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/pool"
	"github.com/simpx/anyserve/internal/registry"
	"github.com/simpx/anyserve/internal/workerclient"
	"go.uber.org/zap"
)

// startAddWorker simulates S1's "add" Worker: it sums two input tensors
// element-wise and returns the result as a single output tensor.
func startAddWorker(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "add.sock")

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					reqBytes, err := framing.Read(c)
					if err != nil {
						return
					}
					var req inferencewire.ModelInferRequest
					if err := json.Unmarshal(reqBytes, &req); err != nil {
						return
					}

					a := req.Inputs[0].Int64Contents
					b := req.Inputs[1].Int64Contents
					sum := make([]int64, len(a))
					for i := range a {
						sum[i] = a[i] + b[i]
					}

					resp := inferencewire.ModelInferResponse{
						ModelName:    req.ModelName,
						ModelVersion: req.ModelVersion,
						ID:           req.ID,
						Outputs: []inferencewire.Tensor{
							{Name: "sum", Datatype: "INT64", Shape: []int64{int64(len(sum))}, Int64Contents: sum},
						},
					}
					respBytes, err := json.Marshal(resp)
					if err != nil {
						return
					}
					if err := framing.Write(c, respBytes); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return "unix://" + sockPath
}

func newTestService(t *testing.T, reg *registry.Registry) *Service {
	t.Helper()
	p := pool.New(pool.Options{MaxConnectionsPerEndpoint: 2})
	wc := workerclient.New(p, zap.NewNop())
	return New(reg, wc, nil, Config{ServerName: "anyserve", ServerVersion: "test"}, zap.NewNop())
}

func TestModelInferDirectHit(t *testing.T) {
	// S1 — Direct hit.
	endpoint := startAddWorker(t)
	reg := registry.New(zap.NewNop())
	reg.Register("add", "", endpoint, "w0")

	svc := newTestService(t, reg)

	resp, err := svc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{
		ModelName: "add",
		Inputs: []inferencewire.Tensor{
			{Name: "a", Int64Contents: []int64{1, 2, 3}},
			{Name: "b", Int64Contents: []int64{10, 20, 30}},
		},
	})
	if err != nil {
		t.Fatalf("ModelInfer() error = %v", err)
	}
	want := []int64{11, 22, 33}
	got := resp.Outputs[0].Int64Contents
	if len(got) != len(want) {
		t.Fatalf("output length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestModelInferVersionedFallbackDisabled(t *testing.T) {
	// S2 — Versioned fallback disabled.
	reg := registry.New(zap.NewNop())
	reg.Register("classifier", "v1", "unix:///tmp/doesnotmatter.sock", "w1")
	svc := newTestService(t, reg)

	_, err := svc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{
		ModelName:    "classifier",
		ModelVersion: "",
	})
	assertStatusCode(t, err, codes.NotFound)
}

func TestModelInferFastReject(t *testing.T) {
	// S4 — Fast reject: no registration, no socket connection attempted.
	reg := registry.New(zap.NewNop())
	svc := newTestService(t, reg)

	_, err := svc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{
		ModelName: "missing",
	})
	assertStatusCode(t, err, codes.NotFound)
}

func TestModelInferWorkerDeath(t *testing.T) {
	// S5 — Worker death: registry entry removed, subsequent lookup is
	// NotFound, not a transport error or a hang.
	reg := registry.New(zap.NewNop())
	reg.Register("echo", "", "unix:///tmp/echo.sock", "w-echo")
	svc := newTestService(t, reg)

	reg.UnregisterWorker("w-echo")

	_, err := svc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{
		ModelName: "echo",
	})
	assertStatusCode(t, err, codes.NotFound)
}

// fakeDelegator implements Delegator against a static routing table, used
// to test delegation without a real Directory.
type fakeDelegator struct {
	endpoint  string
	replicaID string
	found     bool
}

func (f fakeDelegator) Route(ctx context.Context, query capability.Query, excludeReplicaID string) (string, string, bool, error) {
	if !f.found {
		return "", "", false, nil
	}
	return f.endpoint, f.replicaID, true, nil
}

func TestModelInferDelegatesOnLocalMiss(t *testing.T) {
	// S6 — local miss delegates to a peer Dispatcher, which serves it.
	endpoint := startAddWorker(t)
	peerReg := registry.New(zap.NewNop())
	peerReg.Register("add", "", endpoint, "w-peer")
	peerSvc := New(peerReg, workerclient.New(pool.New(pool.Options{MaxConnectionsPerEndpoint: 2}), zap.NewNop()), nil,
		Config{ServerName: "peer", ServerVersion: "test", ReplicaID: "peer-1"}, zap.NewNop())
	peerSvc.SetReady(true)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&inferencewire.InferenceServiceDesc, peerSvc)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	localReg := registry.New(zap.NewNop())
	delegator := fakeDelegator{endpoint: lis.Addr().String(), replicaID: "peer-1", found: true}
	localSvc := New(localReg, workerclient.New(pool.New(pool.Options{MaxConnectionsPerEndpoint: 2}), zap.NewNop()), delegator,
		Config{ServerName: "local", ServerVersion: "test", ReplicaID: "local-1"}, zap.NewNop())

	resp, err := localSvc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{
		ModelName: "add",
		Inputs: []inferencewire.Tensor{
			{Name: "a", Int64Contents: []int64{1, 2, 3}},
			{Name: "b", Int64Contents: []int64{10, 20, 30}},
		},
	})
	if err != nil {
		t.Fatalf("ModelInfer() error = %v", err)
	}
	want := []int64{11, 22, 33}
	got := resp.Outputs[0].Int64Contents
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("output[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestModelInferDelegationNoPeerFallsBackToNotFound(t *testing.T) {
	reg := registry.New(zap.NewNop())
	delegator := fakeDelegator{found: false}
	svc := New(reg, workerclient.New(pool.New(pool.Options{MaxConnectionsPerEndpoint: 2}), zap.NewNop()), delegator,
		Config{ServerName: "anyserve", ServerVersion: "test"}, zap.NewNop())

	_, err := svc.ModelInfer(context.Background(), &inferencewire.ModelInferRequest{ModelName: "missing"})
	assertStatusCode(t, err, codes.NotFound)
}

func TestModelInferRejectsSecondDelegationHop(t *testing.T) {
	// A request already carrying hop=1 that misses the local registry must
	// fail fast rather than delegate again — §9 caps delegation at one hop.
	reg := registry.New(zap.NewNop())
	svc := newTestService(t, reg)

	ctx := contextWithHop(1)
	_, err := svc.ModelInfer(ctx, &inferencewire.ModelInferRequest{ModelName: "missing"})
	assertStatusCode(t, err, codes.Internal)
}

func TestModelInferServesLocallyAtHopOne(t *testing.T) {
	// A delegated request (hop=1) for a model the receiving replica *can*
	// serve locally must be answered, not rejected — this is the S6 path:
	// A delegates to B, B has the model registered, B returns its response.
	endpoint := startAddWorker(t)
	reg := registry.New(zap.NewNop())
	reg.Register("add", "", endpoint, "w0")
	svc := newTestService(t, reg)

	ctx := contextWithHop(1)
	resp, err := svc.ModelInfer(ctx, &inferencewire.ModelInferRequest{
		ModelName: "add",
		Inputs: []inferencewire.Tensor{
			{Name: "a", Int64Contents: []int64{1, 2, 3}},
			{Name: "b", Int64Contents: []int64{10, 20, 30}},
		},
	})
	if err != nil {
		t.Fatalf("ModelInfer() at hop=1 with local model = err %v, want nil", err)
	}
	got := resp.Outputs[0].Int64Contents
	want := []int64{11, 22, 33}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ModelInfer() outputs = %v, want %v", got, want)
		}
	}
}

func TestServerLiveAlwaysLive(t *testing.T) {
	reg := registry.New(zap.NewNop())
	svc := newTestService(t, reg)

	resp, err := svc.ServerLive(context.Background(), &inferencewire.ServerLiveRequest{})
	if err != nil || !resp.Live {
		t.Fatalf("ServerLive() = %+v, %v, want live=true, nil", resp, err)
	}
}

func TestServerReadyReflectsSetReady(t *testing.T) {
	reg := registry.New(zap.NewNop())
	svc := newTestService(t, reg)

	resp, _ := svc.ServerReady(context.Background(), &inferencewire.ServerReadyRequest{})
	if resp.Ready {
		t.Fatal("expected not-ready before SetReady(true)")
	}

	svc.SetReady(true)
	resp, _ = svc.ServerReady(context.Background(), &inferencewire.ServerReadyRequest{})
	if !resp.Ready {
		t.Fatal("expected ready after SetReady(true)")
	}
}

func TestModelReady(t *testing.T) {
	reg := registry.New(zap.NewNop())
	reg.Register("add", "", "unix:///tmp/add.sock", "w0")
	svc := newTestService(t, reg)

	resp, err := svc.ModelReady(context.Background(), &inferencewire.ModelReadyRequest{Name: "add"})
	if err != nil || !resp.Ready {
		t.Fatalf("ModelReady() = %+v, %v, want ready=true", resp, err)
	}

	resp, err = svc.ModelReady(context.Background(), &inferencewire.ModelReadyRequest{Name: "missing"})
	if err != nil || resp.Ready {
		t.Fatalf("ModelReady() for missing model = %+v, %v, want ready=false", resp, err)
	}
}

func contextWithHop(hop int) context.Context {
	val := "0"
	if hop >= 1 {
		val = "1"
	}
	md := metadata.Pairs(DelegationHopHeader, val)
	return metadata.NewIncomingContext(context.Background(), md)
}

func assertStatusCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected a gRPC status error, got %v", err)
	}
	if st.Code() != want {
		t.Fatalf("status code = %s, want %s", st.Code(), want)
	}
}

package directory

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/simpx/anyserve/internal/capability"
	"github.com/simpx/anyserve/internal/dispatch"
	"github.com/simpx/anyserve/internal/directoryclient"
	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/pool"
	"github.com/simpx/anyserve/internal/registry"
	"github.com/simpx/anyserve/internal/workerclient"
)

// startDispatchPair brings up one Dispatch Service with its own registry
// and a directoryclient.Client registered against the shared Directory
// under the given offer. Returns the gRPC listen address.
func startDispatchPair(t *testing.T, directoryURL, replicaID string, offer capability.Offer) (addr string, client *directoryclient.Client) {
	t.Helper()

	reg := registry.New(zap.NewNop())
	wc := workerclient.New(pool.New(pool.Options{MaxConnectionsPerEndpoint: 2}), zap.NewNop())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr = lis.Addr().String()

	dc := directoryclient.New(directoryclient.Config{
		DirectoryAddr: directoryURL,
		ReplicaID:     replicaID,
		Endpoint:      addr,
		Capabilities:  []capability.Offer{offer},
	}, zap.NewNop())

	svc := dispatch.New(reg, wc, dc, dispatch.Config{
		ServerName: "anyserve", ServerVersion: "test", ReplicaID: replicaID,
	}, zap.NewNop())
	svc.SetReady(true)

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&inferencewire.InferenceServiceDesc, svc)
	go grpcServer.Serve(lis)
	t.Cleanup(grpcServer.Stop)

	return addr, dc
}

// TestDelegationAcrossTwoDispatchers exercises S6: Dispatcher A offers only
// "chat", Dispatcher B offers only "embed". A request for an embed model
// arriving at A is delegated to B via the Directory's routing lookup, and
// B answers ServerReady (neither side has a Worker registered, so this
// test only exercises the delegation path up through the Route lookup and
// a ServerReady call on the peer rather than a full ModelInfer round trip
// against a Worker).
func TestDelegationAcrossTwoDispatchers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	directorySrv := httptest.NewServer(NewRouter(RouterConfig{Hub: hub, Logger: zap.NewNop()}))
	defer directorySrv.Close()

	_, dcA := startDispatchPair(t, directorySrv.URL, "dispatcher-a", capability.Offer{"type": "chat"})
	addrB, dcB := startDispatchPair(t, directorySrv.URL, "dispatcher-b", capability.Offer{"type": "embed"})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go dcA.Run(runCtx)
	go dcB.Run(runCtx)

	waitForCount(t, hub, 2)

	// A asks the Directory to find a peer offering "embed", excluding itself.
	endpoint, replicaID, ok, err := dcA.Route(context.Background(), capability.Query{"type": "embed"}, "dispatcher-a")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if !ok {
		t.Fatal("Route() found no peer offering embed")
	}
	if replicaID != "dispatcher-b" || endpoint != addrB {
		t.Errorf("Route() = %q, %q, want dispatcher-b, %q", replicaID, endpoint, addrB)
	}

	// A must never resolve itself when searching for a capability -- assert
	// the exclude parameter holds even though A's own "chat" offer matches
	// this query.
	_, selfReplicaID, ok, err := dcA.Route(context.Background(), capability.Query{"type": "chat"}, "dispatcher-a")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if ok && selfReplicaID == "dispatcher-a" {
		t.Error("Route() returned the excluded replica_id")
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial peer: %v", err)
	}
	defer conn.Close()
	peerClient := inferencewire.NewInferenceClient(conn)

	readyCtx, readyCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer readyCancel()
	resp, err := peerClient.ServerReady(readyCtx, &inferencewire.ServerReadyRequest{})
	if err != nil {
		t.Fatalf("ServerReady on delegated peer: %v", err)
	}
	if !resp.Ready {
		t.Error("delegated peer reports not ready")
	}
}

// Package dispatch implements the Dispatch service: the client-facing
// inference RPC surface. It consults the Registry on every request and
// delegates payload forwarding to the Worker Client; it is the only layer
// in this repository that translates internal error kinds into gRPC
// status codes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/simpx/anyserve/internal/capability"
	"github.com/simpx/anyserve/internal/inferencewire"
	"github.com/simpx/anyserve/internal/registry"
	"github.com/simpx/anyserve/internal/workerclient"
)

// DelegationHopHeader is the gRPC metadata key carrying the §4.8/§9
// delegation hop counter. A request already at hop 1 cannot be delegated
// again — a second attempt fails fast.
const DelegationHopHeader = "x-anyserve-delegation-hop"

// ErrDelegationDepthExceeded is returned when a request arrives already
// carrying a hop count at the cap and the caller tries to delegate again.
// This repository's own code never needs to re-wrap it into a status —
// callers of Service methods get it back as a gRPC status error directly.
var ErrDelegationDepthExceeded = errors.New("dispatch: delegation depth exceeded")

// Config controls the static descriptive responses and the single
// server-wide readiness flag.
type Config struct {
	ServerName    string
	ServerVersion string
	ModelPlatform string

	// ReplicaID identifies this Dispatcher to the Directory. It is sent as
	// the "exclude" parameter on delegation route lookups so a peer search
	// never routes a request back to the replica that could not serve it.
	ReplicaID string
}

// Delegator resolves a peer Dispatcher capable of serving a capability
// query this replica cannot. Implemented by directoryclient.Client; kept
// as a narrow interface here so dispatch does not import the Directory
// wire format directly.
type Delegator interface {
	Route(ctx context.Context, query capability.Query, excludeReplicaID string) (endpoint, replicaID string, ok bool, err error)
}

// Service implements inferencewire.InferenceServer. It holds no per-request
// state; concurrent requests for the same or different models are served
// without ordering constraints, matching §4.5.
type Service struct {
	registry  *registry.Registry
	worker    *workerclient.Client
	delegator Delegator
	cfg       Config
	logger    *zap.Logger

	// ready is flipped to 1 once startup completes and back to 0 when
	// graceful shutdown begins, per ServerReady's contract.
	ready atomic.Bool
}

// New creates a Service. The Service starts not-ready; callers must call
// SetReady(true) once the Dispatcher has finished starting up. delegator
// may be nil, in which case a model miss is never delegated to a peer —
// ModelInfer returns NotFound directly, matching a Dispatcher running
// without a Directory connection.
func New(reg *registry.Registry, worker *workerclient.Client, delegator Delegator, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: reg, worker: worker, delegator: delegator, cfg: cfg, logger: logger.Named("dispatch")}
}

// SetReady flips the readiness flag ServerReady reports.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// ServerLive always reports live: a reachable process is by definition
// alive, independent of whether it is ready to serve.
func (s *Service) ServerLive(ctx context.Context, _ *inferencewire.ServerLiveRequest) (*inferencewire.ServerLiveResponse, error) {
	return &inferencewire.ServerLiveResponse{Live: true}, nil
}

// ServerReady reports whether the Dispatcher is currently accepting
// requests — true after startup completes, false during shutdown.
func (s *Service) ServerReady(ctx context.Context, _ *inferencewire.ServerReadyRequest) (*inferencewire.ServerReadyResponse, error) {
	return &inferencewire.ServerReadyResponse{Ready: s.ready.Load()}, nil
}

// ServerMetadata returns a static descriptive blob.
func (s *Service) ServerMetadata(ctx context.Context, _ *inferencewire.ServerMetadataRequest) (*inferencewire.ServerMetadataResponse, error) {
	return &inferencewire.ServerMetadataResponse{
		Name:       s.cfg.ServerName,
		Version:    s.cfg.ServerVersion,
		Extensions: nil,
	}, nil
}

// ModelReady reports whether Registry.Lookup succeeds for (name, version).
func (s *Service) ModelReady(ctx context.Context, req *inferencewire.ModelReadyRequest) (*inferencewire.ModelReadyResponse, error) {
	_, err := s.registry.Lookup(req.Name, req.Version)
	return &inferencewire.ModelReadyResponse{Ready: err == nil}, nil
}

// ModelMetadata returns static descriptive strings; Name echoes the
// request per §4.5.
func (s *Service) ModelMetadata(ctx context.Context, req *inferencewire.ModelMetadataRequest) (*inferencewire.ModelMetadataResponse, error) {
	versions := []string{}
	if req.Version != "" {
		versions = []string{req.Version}
	}
	return &inferencewire.ModelMetadataResponse{
		Name:     req.Name,
		Versions: versions,
		Platform: s.cfg.ModelPlatform,
	}, nil
}

// ModelInfer is the core routing path: Registry lookup, then
// WorkerClient.Forward, then response parse. A NotFound lookup is
// surfaced verbatim and never escalated to INTERNAL; no Worker is
// contacted in that case.
func (s *Service) ModelInfer(ctx context.Context, req *inferencewire.ModelInferRequest) (*inferencewire.ModelInferResponse, error) {
	hop, _ := delegationHop(ctx)

	endpoint, err := s.registry.Lookup(req.ModelName, req.ModelVersion)
	if err != nil {
		if hop >= 1 {
			s.logger.Warn("rejecting delegated request at max delegation depth",
				zap.String("model_name", req.ModelName))
			return nil, status.Error(codes.Internal, ErrDelegationDepthExceeded.Error())
		}
		if s.delegator != nil {
			if resp, delegated, derr := s.delegate(ctx, req); delegated {
				return resp, derr
			}
		}
		msg := fmt.Sprintf("model %q not found", req.ModelName)
		if req.ModelVersion != "" {
			msg = fmt.Sprintf("model %q version %q not found", req.ModelName, req.ModelVersion)
		}
		return nil, status.Error(codes.NotFound, msg)
	}

	codec := jsonRequestCodec{}
	requestBytes, err := codec.encodeRequest(req)
	if err != nil {
		s.logger.Error("failed to serialize inference request", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to serialize request")
	}

	responseBytes, err := s.worker.Forward(endpoint, requestBytes)
	if err != nil {
		s.logger.Warn("worker forward failed",
			zap.String("model_name", req.ModelName),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
		// Per §4.5: a single model_key maps to a single endpoint by
		// invariant, so a transport failure is not retried against a
		// different Worker here.
		return nil, status.Error(codes.Internal, "worker transport failure")
	}

	resp, err := codec.decodeResponse(responseBytes)
	if err != nil {
		s.logger.Warn("failed to parse worker response",
			zap.String("model_name", req.ModelName), zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to parse worker response")
	}

	return resp, nil
}

// delegate attempts to serve a local registry miss by asking the Directory
// for a peer Dispatcher that offers the requested model, then forwarding
// the request there with the delegation hop counter set to 1 (§4.8, §9,
// invariant 6). Returns delegated=false if no peer was found, in which
// case the caller falls through to its own NotFound response; delegated=true
// means the returned (resp, err) pair is the final answer regardless of
// its own success or failure.
func (s *Service) delegate(ctx context.Context, req *inferencewire.ModelInferRequest) (resp *inferencewire.ModelInferResponse, delegated bool, err error) {
	query := capability.FromModelKey(req.ModelName, req.ModelVersion)

	peerEndpoint, peerReplicaID, ok, rerr := s.delegator.Route(ctx, query, s.cfg.ReplicaID)
	if rerr != nil {
		s.logger.Warn("delegation route lookup failed", zap.Error(rerr))
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	s.logger.Info("delegating request to peer dispatcher",
		zap.String("model_name", req.ModelName),
		zap.String("peer_replica_id", peerReplicaID),
		zap.String("peer_endpoint", peerEndpoint),
	)

	conn, derr := grpc.NewClient(peerEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if derr != nil {
		return nil, true, status.Errorf(codes.Internal, "delegation: dial peer dispatcher: %v", derr)
	}
	defer conn.Close()

	outCtx := metadata.AppendToOutgoingContext(ctx, DelegationHopHeader, "1")
	client := inferencewire.NewInferenceClient(conn)
	resp, err = client.ModelInfer(outCtx, req)
	return resp, true, err
}

// delegationHop reads the delegation hop counter from incoming gRPC
// metadata, per §9: identity is not used to detect loops since it may be
// NATted; a carried counter is the only mechanism.
func delegationHop(ctx context.Context) (int, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, false
	}
	values := md.Get(DelegationHopHeader)
	if len(values) == 0 {
		return 0, false
	}
	switch values[0] {
	case "1":
		return 1, true
	case "0":
		return 0, true
	default:
		return 0, false
	}
}

// Serve starts a gRPC server exposing this Service on listenAddr and
// blocks until ctx is cancelled, at which point it performs a graceful
// stop — mirroring the teacher's ListenAndServe/GracefulStop shutdown
// shape, generalized from a single AgentService to the InferenceServiceDesc
// registration. registerExtra lets the caller register additional services
// (e.g. the Management service) on the same listener, since a Dispatcher
// process exposes both over one gRPC port.
func (s *Service) Serve(ctx context.Context, listenAddr string, registerExtra ...func(*grpc.Server)) error {
	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("dispatch: listen on %s: %w", listenAddr, err)
	}

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&inferencewire.InferenceServiceDesc, s)
	for _, register := range registerExtra {
		register(grpcServer)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info("dispatch server shutting down gracefully")
		s.SetReady(false)
		grpcServer.GracefulStop()
	}()

	s.logger.Info("dispatch server listening", zap.String("addr", listenAddr))
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("dispatch: server error: %w", err)
	}
	return nil
}

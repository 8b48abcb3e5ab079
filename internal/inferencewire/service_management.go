package inferencewire

import (
	"context"

	"google.golang.org/grpc"
)

// ManagementServer is implemented by internal/management.Service and is
// consumed by local Workers. It is served on the Dispatcher's single gRPC
// listener alongside InferenceServer, not on a port of its own.
type ManagementServer interface {
	RegisterModel(context.Context, *RegisterModelRequest) (*RegisterModelResponse, error)
	UnregisterModel(context.Context, *UnregisterModelRequest) (*UnregisterModelResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
}

// ManagementServiceName is the fully-qualified gRPC service name for the
// Worker-facing Management RPC.
const ManagementServiceName = "anyserve.ManagementService"

func managementRegisterModelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServer).RegisterModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ManagementServiceName + "/RegisterModel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServer).RegisterModel(ctx, req.(*RegisterModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func managementUnregisterModelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnregisterModelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServer).UnregisterModel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ManagementServiceName + "/UnregisterModel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServer).UnregisterModel(ctx, req.(*UnregisterModelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func managementHeartbeatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ManagementServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ManagementServiceName + "/Heartbeat"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ManagementServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ManagementServiceDesc is the hand-written grpc.ServiceDesc for the
// Management RPC surface, registered the same way InferenceServiceDesc is.
var ManagementServiceDesc = grpc.ServiceDesc{
	ServiceName: ManagementServiceName,
	HandlerType: (*ManagementServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterModel", Handler: managementRegisterModelHandler},
		{MethodName: "UnregisterModel", Handler: managementUnregisterModelHandler},
		{MethodName: "Heartbeat", Handler: managementHeartbeatHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inferencewire/management.proto",
}

// ManagementClient is a thin hand-written client stub used by Workers
// (cmd/devworker) to call the Management service.
type ManagementClient struct {
	cc *grpc.ClientConn
}

// NewManagementClient wraps an established *grpc.ClientConn.
func NewManagementClient(cc *grpc.ClientConn) *ManagementClient {
	return &ManagementClient{cc: cc}
}

func (c *ManagementClient) RegisterModel(ctx context.Context, in *RegisterModelRequest, opts ...grpc.CallOption) (*RegisterModelResponse, error) {
	out := new(RegisterModelResponse)
	if err := c.cc.Invoke(ctx, "/"+ManagementServiceName+"/RegisterModel", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ManagementClient) UnregisterModel(ctx context.Context, in *UnregisterModelRequest, opts ...grpc.CallOption) (*UnregisterModelResponse, error) {
	out := new(UnregisterModelResponse)
	if err := c.cc.Invoke(ctx, "/"+ManagementServiceName+"/UnregisterModel", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ManagementClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, "/"+ManagementServiceName+"/Heartbeat", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

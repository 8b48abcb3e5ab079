package management

import (
	"google.golang.org/grpc"

	"github.com/simpx/anyserve/internal/inferencewire"
)

// RegisterOn returns a registration func suitable for
// dispatch.Service.Serve's registerExtra parameter, so the Management
// service shares the Dispatcher's single gRPC listener with the Dispatch
// service.
func RegisterOn(svc *Service) func(*grpc.Server) {
	return func(s *grpc.Server) {
		s.RegisterService(&inferencewire.ManagementServiceDesc, svc)
	}
}

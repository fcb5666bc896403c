package rpc

import (
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewServer(validator TokenValidator, sensors *SensorService, workflows *WorkflowService, logger *zap.Logger) *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogging(logger), unaryAuth(validator)),
		grpc.ChainStreamInterceptor(streamLogging(logger), streamAuth(validator)),
	)
	gs.RegisterService(&SensorServiceDesc, sensors)
	gs.RegisterService(&WorkflowServiceDesc, workflows)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	for _, name := range []string{"", SensorServiceName, WorkflowServiceName} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	reflection.Register(gs)

	return &Server{grpc: gs, health: hs, logger: logger}
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening",
		zap.String("addr", lis.Addr().String()),
		zap.Strings("services", []string{SensorServiceName, WorkflowServiceName}))
	return s.grpc.Serve(lis)
}

// GracefulStop reports NOT_SERVING to health checks before draining calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

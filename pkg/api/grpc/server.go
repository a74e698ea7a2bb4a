package grpc

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server represents the gRPC API server. It exposes the standard health
// service so orchestration platforms can probe the scheduler.
type Server struct {
	server   *grpc.Server
	listener net.Listener
	health   *health.Server
	logger   *zap.Logger
}

// Config holds gRPC server configuration
type Config struct {
	Port   int
	Logger *zap.Logger
}

// NewServer creates a new gRPC server
func NewServer(cfg *Config) (*Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		server:   grpcServer,
		listener: listener,
		health:   healthServer,
		logger:   cfg.Logger,
	}, nil
}

// Start starts the gRPC server
func (s *Server) Start() error {
	s.logger.Info("starting gRPC server", zap.String("addr", s.listener.Addr().String()))

	if err := s.server.Serve(s.listener); err != nil {
		return fmt.Errorf("failed to serve gRPC: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.server.GracefulStop()

	s.logger.Info("gRPC server shut down complete")
	return nil
}

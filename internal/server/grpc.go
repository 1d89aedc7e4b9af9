package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const serviceName = "compliance-tracker"

// GRPCServer exposes the standard health service for orchestration probes
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewGRPCServer creates the server. Reflection is registered when debug is set.
func NewGRPCServer(debug bool, logger *zap.Logger) *GRPCServer {
	logger = logger.Named("grpc")
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(unaryLogging(logger)))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	if debug {
		reflection.Register(srv)
	}

	return &GRPCServer{server: srv, health: hs, logger: logger}
}

// Serve marks the service SERVING and blocks until the server stops
func (s *GRPCServer) Serve(lis net.Listener) error {
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	s.logger.Info("Starting gRPC server", zap.String("addr", lis.Addr().String()))

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on port and serves
func (s *GRPCServer) ListenAndServe(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", port, err)
	}
	return s.Serve(lis)
}

// Shutdown reports NOT_SERVING, then drains in-flight calls until ctx expires
func (s *GRPCServer) Shutdown(ctx context.Context) {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gRPC graceful stop timed out, forcing")
		s.server.Stop()
	}
}

func (s *GRPCServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

func unaryLogging(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("gRPC request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)))
		return resp, err
	}
}

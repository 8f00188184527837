// Package server provides gRPC and metrics server lifecycle management.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/tripwire/internal/core/api"
	"github.com/solatis/tripwire/internal/core/auth"
)

const shutdownTimeout = 30 * time.Second

// GRPCServer manages the control-plane gRPC server lifecycle.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string

	mu       sync.Mutex
	listener net.Listener
}

// NewGRPCServer creates the server with the auth interceptor, the control
// service and the standard health service.
func NewGRPCServer(addr string, service api.ControlServer, authenticator *auth.Authenticator) (*GRPCServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(authenticator.UnaryInterceptor()))
	api.RegisterControlServer(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ControlServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{server: server, health: healthServer, addr: addr}, nil
}

// Listen binds the listener. Use Addr to learn the bound address when
// the configured port is 0.
func (s *GRPCServer) Listen() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds if needed and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	lis := s.listener
	s.mu.Unlock()
	return s.server.Serve(lis)
}

// Shutdown marks the server not serving and stops it gracefully, forcing
// a stop after 30 seconds or when ctx ends.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}

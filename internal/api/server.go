package api

import (
	"context"
	"fmt"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/miradorstack/mirador-fleetsim/internal/config"
)

// StreamDrainer is implemented by services whose WatchTicks streams only end
// when told to. Shutdown drains them before waiting on in-flight calls.
type StreamDrainer interface {
	DrainStreams()
}

// Server hosts the fleet simulator service alongside the standard health and
// reflection services, with Prometheus interceptors on every call.
type Server struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	drainer    StreamDrainer
}

// NewServer listens on cfg.Address and serves the fleet simulator there.
func NewServer(cfg config.ServerConfig, service FleetSimulatorServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return NewServerWithListener(cfg, lis, service, opts...), nil
}

// NewServerWithListener builds the server on an existing listener, such as a
// bufconn listener in tests. The fleet service is reported SERVING under both
// the empty name and ServiceName until Shutdown. Reflection is opt-in.
func NewServerWithListener(cfg config.ServerConfig, lis net.Listener, service FleetSimulatorServer, opts ...grpc.ServerOption) *Server {
	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterFleetSimulatorServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	if cfg.Reflection {
		reflection.Register(grpcServer)
	}

	drainer, _ := service.(StreamDrainer)
	return &Server{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
		drainer:    drainer,
	}
}

// Start blocks serving fleet simulator calls until Shutdown.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown marks the service NOT_SERVING, ends open tick streams, then stops
// gracefully. Unary calls still running when ctx expires are cut off.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.drainer != nil {
		s.drainer.DrainStreams()
	}

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address is the bound listener address, e.g. ":50051" resolved to a port.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout bounds how long serve waits in Shutdown before forcing Stop.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}

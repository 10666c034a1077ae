// Package api exposes the Hotspots operation surface over gRPC.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-hotspots/internal/config"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// Server owns the gRPC listener, the Hotspots service and the health endpoint.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewServer listens on cfg.Address and registers service on it.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, service HotspotsServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return NewServerWithListener(cfg, logger, lis, service, opts...), nil
}

// NewServerWithListener serves on an existing listener, e.g. a bufconn in tests.
func NewServerWithListener(cfg config.ServerConfig, logger *slog.Logger, lis net.Listener, service HotspotsServer, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger, listener: lis}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			s.logUnary,
			s.recoverUnary,
		),
	}
	if cfg.MaxRecvMsgBytes > 0 {
		serverOpts = append(serverOpts, grpc.MaxRecvMsgSize(cfg.MaxRecvMsgBytes))
	}
	s.grpc = grpc.NewServer(append(serverOpts, opts...)...)

	RegisterHotspotsServer(s.grpc, service)
	grpc_prometheus.Register(s.grpc)

	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	if cfg.Reflection {
		reflection.Register(s.grpc)
	}
	return s
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	started := time.Now()
	resp, err := handler(ctx, req)
	level := slog.LevelDebug
	if code := status.Code(err); code == codes.Internal || code == codes.Unknown {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "rpc handled",
		slog.String("method", info.FullMethod),
		slog.String("code", status.Code(err).String()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return resp, err
}

// recoverUnary reports handler panics as codes.Internal.
func (s *Server) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if perr := utils.Recovered(info.FullMethod, recover()); perr != nil {
			s.logger.Error("rpc handler panicked", slog.String("method", info.FullMethod), slog.Any("error", perr))
			resp, err = nil, status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	if s.grpc == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpc.Serve(s.listener)
}

// Shutdown marks the service NOT_SERVING, drains in-flight calls and hard
// stops once ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpc == nil {
		return
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

// Address reports the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout is how long Shutdown callers should wait for draining.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}

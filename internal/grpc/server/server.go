// Package server exposes the gRPC health service, reporting whether the
// chat backends answer.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/AlexMickh/market-chat/pkg/logger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name load balancers ask for.
const ServiceName = "chat.v1.Chat"

type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

type CheckFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.Label }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

type Server struct {
	srv      *grpc.Server
	health   *health.Server
	checkers []Checker
	port     int
	interval time.Duration
}

func New(ctx context.Context, port int, interval time.Duration, checkers ...Checker) *Server {
	hs := health.NewServer()
	srv := grpc.NewServer(grpc.UnaryInterceptor(logger.Interceptor(ctx)))
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		srv:      srv,
		health:   hs,
		checkers: checkers,
		port:     port,
		interval: interval,
	}
}

// Probe runs every checker once and publishes the result.
func (s *Server) Probe(ctx context.Context) bool {
	const op = "grpc.server.Probe"

	status := healthpb.HealthCheckResponse_SERVING
	for _, c := range s.checkers {
		if err := c.Check(ctx); err != nil {
			logger.GetFromCtx(ctx).Warn(ctx, "dependency unhealthy",
				zap.String("op", op),
				zap.String("dependency", c.Name()),
				zap.Error(err),
			)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)

	return status == healthpb.HealthCheckResponse_SERVING
}

func (s *Server) Run(ctx context.Context) error {
	const op = "grpc.server.Run"

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.Probe(ctx)
	go s.watch(ctx)

	logger.GetFromCtx(ctx).Info(ctx, "grpc health server started", zap.Int("port", s.port))
	if err := s.srv.Serve(lis); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Server) watch(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.interval)
			s.Probe(checkCtx)
			cancel()
		}
	}
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

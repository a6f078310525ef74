package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"lexflow.io/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// GRPCServer publishes readiness through the standard gRPC health service.
// The overall status and the lexflow-api service follow the readiness probe.
type GRPCServer struct {
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

func NewGRPCServer(r readinessChecker, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		interval:  interval,
	}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh runs the readiness probe once and publishes the result.
func (s *GRPCServer) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Warn("readiness probe failed", map[string]any{"error": err.Error()})
		obs.SetReady(false)
	} else {
		obs.SetReady(true)
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}

// Run refreshes the status until ctx is done, then reports NOT_SERVING.
func (s *GRPCServer) Run(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

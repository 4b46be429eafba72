package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcHealthInterval = 15 * time.Second

// GRPCHealth serves the standard gRPC health protocol for orchestrator probes,
// mirroring the database check of the HTTP /health endpoint.
type GRPCHealth struct {
	checker *HealthHandler
	server  *grpc.Server
	health  *grpchealth.Server
}

// NewGRPCHealth creates the gRPC health server.
func NewGRPCHealth(checker *HealthHandler) *GRPCHealth {
	hs := grpchealth.NewServer()
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return &GRPCHealth{checker: checker, server: s, health: hs}
}

// Refresh runs the checks once and publishes the serving status.
func (g *GRPCHealth) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if _, healthy := g.checker.Check(ctx); !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
}

// Start listens on addr and refreshes the status until ctx is canceled.
func (g *GRPCHealth) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}
	g.Refresh(ctx)

	go func() {
		slog.Info("gRPC health server listening", "addr", lis.Addr().String())
		if err := g.server.Serve(lis); err != nil {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(grpcHealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Refresh(ctx)
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			}
		}
	}()
	return nil
}

// Package grpcsvc serves the standard gRPC health protocol for the API process,
// tracking the same readiness probe as /readyz.
package grpcsvc

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"clmhub.io/internal/obs"
)

// ServiceName is the health service name reported next to the overall ("") status.
const ServiceName = "clm.api"

// Checker reports whether the process can serve traffic.
type Checker interface {
	Check(ctx context.Context) error
}

// Health mirrors a readiness checker into a grpc health server.
type Health struct {
	checker Checker
	server  *health.Server
	ready   bool
}

// NewHealth starts in NOT_SERVING until the first Refresh.
func NewHealth(checker Checker) *Health {
	h := &Health{checker: checker, server: health.NewServer()}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *Health) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Refresh runs the checker once and publishes the result.
func (h *Health) Refresh(ctx context.Context) error {
	err := h.checker.Check(ctx)
	ready := err == nil
	if ready {
		h.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	if ready != h.ready {
		obs.Info("grpc_health_changed", map[string]any{"serving": ready, "error": err})
		h.ready = ready
	}
	return err
}

// Run refreshes every interval until ctx ends, then reports NOT_SERVING for good.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	_ = h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			_ = h.Refresh(checkCtx)
			cancel()
		}
	}
}

// Register adds the health service to srv.
func (h *Health) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// Serve runs a gRPC server on lis until ctx ends.
func Serve(ctx context.Context, lis net.Listener, h *Health) error {
	srv := grpc.NewServer()
	h.Register(srv)
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

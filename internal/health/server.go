// Package health exposes the relay's readiness over the standard gRPC health
// protocol, for orchestrators that health-check over gRPC rather than HTTP.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "chatrelay"

const (
	defaultInterval = 5 * time.Second
	pingTimeout     = 2 * time.Second
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves grpc.health.v1.Health and keeps it in sync with the store.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	store    Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server. Both statuses start as NOT_SERVING
// until the first store ping succeeds.
func NewServer(store Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpc:     gs,
		health:   hs,
		store:    store,
		interval: interval,
		logger:   logger.With("component", "grpc_health"),
	}
}

// Serve pings the store periodically and serves health checks on lis until
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gRPC health server", "address", lis.Addr().String())
		if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("grpc health server: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

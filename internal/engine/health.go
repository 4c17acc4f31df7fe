package engine

import (
	"context"
	"fmt"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name tracking the session.
const HealthService = "signal-trader"

// healthServer exposes grpc.health.v1 on addr. With an empty addr it only
// tracks status, which keeps SetServing callable in tests.
type healthServer struct {
	addr   string
	status *health.Server
	server *grpc.Server
}

func newHealthServer(addr string) *healthServer {
	h := &healthServer{addr: addr, status: health.NewServer()}
	h.status.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *healthServer) Start() error {
	if h.addr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.addr, err)
	}
	h.server = grpc.NewServer()
	healthpb.RegisterHealthServer(h.server, h.status)
	go func() {
		if err := h.server.Serve(lis); err != nil {
			log.Printf("⚠️ grpc health: %v", err)
		}
	}()
	log.Printf("✓ grpc health listening on %s", h.addr)
	return nil
}

// SetServing reports SERVING while the listener is live.
func (h *healthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus(HealthService, st)
}

// Check returns the current status without a network round trip.
func (h *healthServer) Check() healthpb.HealthCheckResponse_ServingStatus {
	resp, err := h.status.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_SERVICE_UNKNOWN
	}
	return resp.Status
}

func (h *healthServer) Stop() {
	h.status.Shutdown()
	if h.server != nil {
		h.server.GracefulStop()
	}
}

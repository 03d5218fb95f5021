package api

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RouterService is the health service name reported for the streaming
// router. The empty name reports the process as a whole.
const RouterService = "cardio.Router"

// Health serves the standard gRPC health protocol.
type Health struct {
	server *grpc.Server
	status *health.Server

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHealth returns a health server with every service SERVING.
func NewHealth() *Health {
	h := &Health{
		server: grpc.NewServer(),
		status: health.NewServer(),
	}
	healthpb.RegisterHealthServer(h.server, h.status)
	h.status.SetServingStatus(RouterService, healthpb.HealthCheckResponse_SERVING)
	return h
}

// SetServing updates the status of service.
func (h *Health) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus(service, st)
}

// Checker returns the in-process health service.
func (h *Health) Checker() healthpb.HealthServer { return h.status }

// WatchDone marks service NOT_SERVING once done is closed.
func (h *Health) WatchDone(service string, done <-chan struct{}) {
	go func() {
		<-done
		h.SetServing(service, false)
	}()
}

// Start listens on addr and serves in the background.
func (h *Health) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.Serve(lis)
	return nil
}

// Serve serves on lis in the background.
func (h *Health) Serve(lis net.Listener) {
	h.mu.Lock()
	h.listener = lis
	h.mu.Unlock()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		logf("gRPC health listening on %s", lis.Addr())
		if err := h.server.Serve(lis); err != nil {
			logf("gRPC health server error: %v", err)
		}
	}()
}

// Addr returns the listening address, or nil before Start.
func (h *Health) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop marks everything NOT_SERVING and stops the server gracefully.
func (h *Health) Stop() {
	h.status.Shutdown()
	h.server.GracefulStop()
	h.wg.Wait()
}

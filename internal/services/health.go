package services

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MonitorHealthService is the health service name reported by the monitor
const MonitorHealthService = "trafficwatch.monitor"

// HealthReporter publishes component status through the standard gRPC
// health service. A nil reporter ignores updates.
type HealthReporter struct {
	server *health.Server
}

// NewHealthReporter creates a reporter whose overall status is SERVING
func NewHealthReporter() *HealthReporter {
	return &HealthReporter{server: health.NewServer()}
}

// Server returns the gRPC health server for registration
func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}

// SetServing updates a component's status
func (h *HealthReporter) SetServing(service string, serving bool) {
	if h == nil {
		return
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus(service, status)
}

// Shutdown marks every service NOT_SERVING
func (h *HealthReporter) Shutdown() {
	if h == nil {
		return
	}
	h.server.Shutdown()
}

package server

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	bridgev1 "lms-bridge/api/bridge/v1"
	"lms-bridge/internal/audit"
	"lms-bridge/internal/bridge"
	bridgehandler "lms-bridge/internal/bridge/handler"
	"lms-bridge/internal/security"
	"lms-bridge/internal/server/interceptors"
	"lms-bridge/internal/telemetry"
)

// HealthCheckMethod is public and excluded from audit and events.
const HealthCheckMethod = "/grpc.health.v1.Health/Check"

// Deps holds the services and cross-cutting collaborators of the gRPC server.
type Deps struct {
	// Bridge backs BridgeService. If nil, bridge RPCs return Unimplemented.
	Bridge *bridge.Service
	// Health is the standard health server. If nil, a new one reporting SERVING is used.
	Health *health.Server
	// Tokens validates bearer access tokens. Required by NewGRPCServer.
	Tokens *security.TokenProvider
	// Audit records one entry per authenticated RPC. Optional.
	Audit audit.AuditLogger
	// Events receives rpc.call events. Optional.
	Events telemetry.EventEmitter
	// Tracing adds the otelgrpc stats handler.
	Tracing bool
	Logger  logrus.FieldLogger
}

// RegisterServices registers BridgeService and grpc.health.v1.Health with s.
//
// Proto → handler mapping:
//   - lmsbridge.v1.BridgeService → internal/bridge/handler
//   - grpc.health.v1.Health      → google.golang.org/grpc/health (status driven by internal/health)
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) *health.Server {
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	bridgev1.RegisterBridgeServiceServer(s, bridgehandler.NewServer(deps.Bridge, deps.Logger))
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// NewGRPCServer builds a server with the interceptor chain auth → audit → telemetry and registers
// all services. It returns the health server so the caller can drive its status.
func NewGRPCServer(deps Deps) (*grpc.Server, *health.Server) {
	skip := map[string]bool{HealthCheckMethod: true}
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			interceptors.AuthUnary(deps.Tokens, skip),
			interceptors.AuditUnary(deps.Audit, skip),
			interceptors.TelemetryUnary(deps.Events, skip),
		),
	}
	if deps.Tracing {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	s := grpc.NewServer(opts...)
	return s, RegisterServices(s, deps)
}

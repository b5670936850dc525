package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"lms-bridge/internal/telemetry"
	"lms-bridge/internal/telemetry/domain"
)

const telemetrySource = "grpc"

// callMetadata is the metadata of an rpc.call event.
type callMetadata struct {
	Method     string `json:"method"`
	Code       string `json:"code"`
	Role       string `json:"role,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// TelemetryUnary emits an rpc.call event for every call not in skip. Emission is detached from
// the request; a nil emitter turns the interceptor into a pass-through.
func TelemetryUnary(emitter telemetry.EventEmitter, skip map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if emitter == nil || skip[info.FullMethod] {
			return handler(ctx, req)
		}
		start := time.Now()
		resp, err := handler(ctx, req)
		userID, _ := GetUserID(ctx)
		role, _ := GetRole(ctx)
		telemetry.EmitAsync(emitter, domain.NewEvent(domain.EventRPC, telemetrySource, userID, callMetadata{
			Method:     info.FullMethod,
			Code:       status.Code(err).String(),
			Role:       role,
			DurationMs: time.Since(start).Milliseconds(),
			ClientIP:   ClientIP(ctx),
		}))
		return resp, err
	}
}

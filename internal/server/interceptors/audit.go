package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"lms-bridge/internal/audit"
)

// AuditUnary writes one audit row per authenticated call after the handler returns. The action
// and resource come from the method name; metadata records the method and status code.
// Anonymous calls and methods in skip are not recorded.
func AuditUnary(logger audit.AuditLogger, skip map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if logger == nil || skip[info.FullMethod] {
			return resp, err
		}
		userID, _ := GetUserID(ctx)
		if userID == "" {
			return resp, err
		}
		ar := audit.ParseFullMethod(info.FullMethod)
		logger.LogEvent(ctx, userID, ar.Action, ar.Resource, map[string]string{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
		})
		return resp, err
	}
}

// ClientIP returns the first address from x-forwarded-for, then x-real-ip, then the transport
// peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for _, header := range []string{"x-forwarded-for", "x-real-ip"} {
			vals := md.Get(header)
			if len(vals) == 0 {
				continue
			}
			first, _, _ := strings.Cut(vals[0], ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

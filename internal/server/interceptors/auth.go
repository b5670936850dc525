package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"lms-bridge/internal/security"
)

var errUnauthenticated = status.Error(codes.Unauthenticated, "missing or invalid authorization")

// AuthUnary attaches the caller identity carried by the Bearer access token to the context.
// Methods in public are served without a token; a valid token on them still sets the identity.
func AuthUnary(tokens *security.TokenProvider, public map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		userID, role, ok := authenticate(ctx, tokens)
		switch {
		case ok:
			return handler(WithIdentity(ctx, userID, role), req)
		case public[info.FullMethod]:
			return handler(ctx, req)
		default:
			return nil, errUnauthenticated
		}
	}
}

func authenticate(ctx context.Context, tokens *security.TokenProvider) (userID, role string, ok bool) {
	token := extractBearer(ctx)
	if token == "" || tokens == nil {
		return "", "", false
	}
	userID, role, err := tokens.ValidateAccess(token)
	if err != nil || userID == "" {
		return "", "", false
	}
	return userID, role, true
}

// extractBearer returns the token of the first authorization header, or "" when absent or not
// a Bearer credential.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(vals[0]), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

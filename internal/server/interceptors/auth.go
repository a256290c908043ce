package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	identitydomain "authcore/internal/identity/domain"
)

const bearerPrefix = "bearer "

// AccessValidator verifies an access token and returns its principal. The auth service
// implements it and also re-checks that the identity may still authenticate.
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (identitydomain.Principal, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer access token from
// gRPC metadata and sets the principal in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. Login, Refresh, health checks). On public methods a valid token still populates
// the principal; an invalid one is ignored.
func AuthUnary(validator AccessValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		token := extractBearer(ctx)
		public := publicMethods[info.FullMethod]

		if token == "" {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		principal, err := validator.ValidateAccess(ctx, token)
		if err != nil {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}

		return handler(WithPrincipal(ctx, principal), req)
	}
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

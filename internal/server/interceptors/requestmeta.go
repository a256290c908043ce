package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	sessiondomain "authcore/internal/session/domain"
)

// LocationHeader carries the client's approximate location as resolved by the edge.
const LocationHeader = "x-client-location"

// RequestMetaUnary returns a unary server interceptor that resolves the caller's IP,
// user-agent and location once and stores them in context for handlers and audit.
func RequestMetaUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(WithRequestMeta(ctx, requestMetaFrom(ctx)), req)
	}
}

func requestMetaFrom(ctx context.Context) sessiondomain.RequestMeta {
	m := sessiondomain.RequestMeta{IP: ClientIP(ctx)}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		m.UserAgent = first(md, "user-agent")
		m.Location = first(md, LocationHeader)
	}
	return m
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if s := first(md, "x-forwarded-for"); s != "" {
			if i := strings.Index(s, ","); i > 0 {
				s = strings.TrimSpace(s[:i])
			}
			return s
		}
		if s := first(md, "x-real-ip"); s != "" {
			return s
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}

func first(md metadata.MD, key string) string {
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

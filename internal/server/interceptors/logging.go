package interceptors

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnary returns a unary server interceptor that logs each RPC with its status code
// and duration. Server-side failures log at error, client errors at info.
// skipMethods is the set of full method names to not log (e.g. health checks).
func LoggingUnary(logger *slog.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		attrs := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", GetRequestMeta(ctx).IP,
		}
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			logger.ErrorContext(ctx, "grpc request failed", append(attrs, "error", err)...)
		default:
			logger.InfoContext(ctx, "grpc request", attrs...)
		}
		return resp, err
	}
}

package handler

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"authcore/internal/apperr"
	"authcore/internal/otp"
)

const (
	msgInvalidCredentials = "invalid credentials"
	msgInvalidCode        = "invalid or expired code"
	msgReauthenticate     = "session is no longer valid; please sign in again"
	msgUnavailable        = "service temporarily unavailable"
	msgInternal           = "internal error"
)

// toStatus maps a service error to a gRPC status. Authentication failures get generic
// messages so callers cannot tell an unknown account from a wrong password.
func toStatus(ctx context.Context, logger *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	var e *apperr.Error
	if !errors.As(err, &e) {
		logger.ErrorContext(ctx, "auth handler: unclassified error", "error", err)
		return status.Error(codes.Internal, msgInternal)
	}
	switch e.Kind {
	case apperr.KindValidation:
		return status.Error(codes.InvalidArgument, e.Msg)
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, e.Msg)
	case apperr.KindUnauthorized:
		if errors.Is(err, otp.ErrCodeExpired) || errors.Is(err, otp.ErrCodeMismatch) {
			return status.Error(codes.Unauthenticated, msgInvalidCode)
		}
		return status.Error(codes.Unauthenticated, msgInvalidCredentials)
	case apperr.KindConflict:
		return status.Error(codes.AlreadyExists, e.Msg)
	case apperr.KindSecurityIncident:
		return status.Error(codes.Unauthenticated, msgReauthenticate)
	case apperr.KindRateLimited:
		return status.Error(codes.ResourceExhausted, e.Msg)
	case apperr.KindUnavailable:
		logger.WarnContext(ctx, "auth handler: dependency unavailable", "code", e.Code, "error", err)
		return status.Error(codes.Unavailable, msgUnavailable)
	default:
		logger.ErrorContext(ctx, "auth handler: internal error", "code", e.Code, "error", err)
		return status.Error(codes.Internal, msgInternal)
	}
}

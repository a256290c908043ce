package handler

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	auditdomain "authcore/internal/audit/domain"
	identitydomain "authcore/internal/identity/domain"
	"authcore/internal/identity/service"
	"authcore/internal/security"
	"authcore/internal/server/interceptors"
	sessiondomain "authcore/internal/session/domain"
)

// Auth is the subset of the auth service the transport calls. *service.AuthService implements it.
type Auth interface {
	SendSignupOTP(ctx context.Context, username, email string) error
	VerifySignupOTP(ctx context.Context, email, code string) error
	Signup(ctx context.Context, in service.SignupInput, meta sessiondomain.RequestMeta) (*service.SignupResult, error)
	Login(ctx context.Context, identifier, password string, meta sessiondomain.RequestMeta) (*service.LoginResult, error)
	VerifyTwoFactorLogin(ctx context.Context, email, code string, meta sessiondomain.RequestMeta) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) (*security.Pair, error)
	Logout(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) error
	SendPasswordResetOTP(ctx context.Context, identifier string, meta sessiondomain.RequestMeta) error
	ResetPassword(ctx context.Context, in service.ResetPasswordInput, meta sessiondomain.RequestMeta) error
	Profile(ctx context.Context, userID string) (*identitydomain.Identity, error)
	ListSessions(ctx context.Context, userID string) ([]*sessiondomain.RefreshSession, error)
	ListAuditEvents(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditEvent, error)
}

// AuthServer implements AuthServiceServer over the auth service. Cookies and other HTTP
// concerns belong to the gateway in front of it.
type AuthServer struct {
	auth   Auth
	logger *slog.Logger
}

// NewAuthServer returns a new Auth gRPC server. When auth is nil every RPC returns Unimplemented.
func NewAuthServer(auth Auth, logger *slog.Logger) *AuthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthServer{auth: auth, logger: logger}
}

var errNotConfigured = status.Error(codes.Unimplemented, "auth service not configured")

// SendSignupOTP sends a signup code. Request: username, email.
func (s *AuthServer) SendSignupOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.SendSignupOTP(ctx, field(req, "username"), field(req, "email")); err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"sent": true})
}

// VerifySignupOTP verifies a signup code ahead of Signup. Request: email, otp.
func (s *AuthServer) VerifySignupOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.VerifySignupOTP(ctx, field(req, "email"), field(req, "otp")); err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"verified": true})
}

// Signup creates an identity. Request: first_name, last_name, username, email, password,
// confirm_password and optionally otp.
func (s *AuthServer) Signup(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Signup(ctx, service.SignupInput{
		FirstName:       field(req, "first_name"),
		LastName:        field(req, "last_name"),
		Username:        field(req, "username"),
		Email:           field(req, "email"),
		Password:        field(req, "password"),
		ConfirmPassword: field(req, "confirm_password"),
		OTP:             field(req, "otp"),
	}, interceptors.GetRequestMeta(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{
		"user":   identityView(res.Identity),
		"tokens": tokensView(res.Tokens),
	})
}

// Login authenticates with a password. Request: identifier, password. When requires_2fa is
// true the response carries no tokens.
func (s *AuthServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.Login(ctx, field(req, "identifier"), field(req, "password"), interceptors.GetRequestMeta(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, loginView(res))
}

// VerifyTwoFactorLogin completes a 2FA login. Request: email, otp.
func (s *AuthServer) VerifyTwoFactorLogin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	res, err := s.auth.VerifyTwoFactorLogin(ctx, field(req, "email"), field(req, "otp"), interceptors.GetRequestMeta(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, loginView(res))
}

// Refresh rotates a refresh token. Request: refresh_token.
func (s *AuthServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	pair, err := s.auth.Refresh(ctx, field(req, "refresh_token"), interceptors.GetRequestMeta(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"tokens": tokensView(pair)})
}

// Logout revokes the session of refresh_token.
func (s *AuthServer) Logout(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.Logout(ctx, field(req, "refresh_token"), interceptors.GetRequestMeta(ctx)); err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{})
}

// SendPasswordResetOTP sends a reset code. Request: identifier. The response is the same
// whether or not the identifier exists.
func (s *AuthServer) SendPasswordResetOTP(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	if err := s.auth.SendPasswordResetOTP(ctx, field(req, "identifier"), interceptors.GetRequestMeta(ctx)); err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"sent": true})
}

// ResetPassword sets a new password. Request: email, otp, password, confirm_password.
func (s *AuthServer) ResetPassword(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	err := s.auth.ResetPassword(ctx, service.ResetPasswordInput{
		Email:           field(req, "email"),
		OTP:             field(req, "otp"),
		Password:        field(req, "password"),
		ConfirmPassword: field(req, "confirm_password"),
	}, interceptors.GetRequestMeta(ctx))
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"reset": true})
}

// WhoAmI returns the caller's profile. Requires a Bearer access token.
func (s *AuthServer) WhoAmI(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	ident, err := s.auth.Profile(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]interface{}{"user": identityView(ident)})
}

// ListSessions returns the caller's live sessions. Requires a Bearer access token.
func (s *AuthServer) ListSessions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	sessions, err := s.auth.ListSessions(ctx, userID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	list := make([]interface{}, 0, len(sessions))
	for _, sess := range sessions {
		list = append(list, map[string]interface{}{
			"id":         sess.ID,
			"issued_at":  timestamp(sess.IssuedAt),
			"expires_at": timestamp(sess.ExpiresAt),
			"ip_address": sess.Meta.IP,
			"user_agent": sess.Meta.UserAgent,
			"location":   sess.Meta.Location,
		})
	}
	return s.reply(ctx, map[string]interface{}{"sessions": list})
}

// ListAuditEvents returns the caller's newest audit events. Request: optional limit.
// Requires a Bearer access token.
func (s *AuthServer) ListAuditEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.auth == nil {
		return nil, errNotConfigured
	}
	userID, ok := interceptors.GetUserID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	limit := int(req.GetFields()["limit"].GetNumberValue())
	events, err := s.auth.ListAuditEvents(ctx, userID, limit)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	list := make([]interface{}, 0, len(events))
	for _, e := range events {
		list = append(list, map[string]interface{}{
			"id":         e.ID,
			"action":     e.Action,
			"ip_address": e.IP,
			"user_agent": e.UserAgent,
			"location":   e.Location,
			"metadata":   e.Metadata,
			"created_at": timestamp(e.CreatedAt),
		})
	}
	return s.reply(ctx, map[string]interface{}{"events": list})
}

func (s *AuthServer) fail(ctx context.Context, err error) error {
	return toStatus(ctx, s.logger, err)
}

func (s *AuthServer) reply(ctx context.Context, m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		s.logger.ErrorContext(ctx, "auth handler: encode response", "error", err)
		return nil, status.Error(codes.Internal, msgInternal)
	}
	return out, nil
}

// field returns the string value of key, or "" when absent or not a string.
func field(req *structpb.Struct, key string) string {
	return req.GetFields()[key].GetStringValue()
}

func loginView(res *service.LoginResult) map[string]interface{} {
	m := map[string]interface{}{
		"requires_2fa": res.Requires2FA,
		"user_id":      res.UserID,
		"email":        res.Email,
	}
	if res.Tokens != nil {
		m["tokens"] = tokensView(res.Tokens)
	}
	return m
}

func tokensView(p *security.Pair) map[string]interface{} {
	return map[string]interface{}{
		"token_type":         "Bearer",
		"access_token":       p.AccessToken,
		"access_expires_at":  timestamp(p.AccessExpiresAt),
		"refresh_token":      p.RefreshToken,
		"refresh_expires_at": timestamp(p.RefreshExpiresAt),
	}
}

func identityView(i *identitydomain.Identity) map[string]interface{} {
	return map[string]interface{}{
		"id":                 i.ID,
		"first_name":         i.FirstName,
		"last_name":          i.LastName,
		"username":           i.Username,
		"email":              i.Email,
		"two_factor_enabled": i.TwoFactorEnabled,
		"created_at":         timestamp(i.CreatedAt),
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

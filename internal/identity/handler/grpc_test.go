package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"authcore/internal/apperr"
	auditdomain "authcore/internal/audit/domain"
	identitydomain "authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/identity/service"
	"authcore/internal/otp"
	"authcore/internal/ratelimit"
	"authcore/internal/rotation"
	"authcore/internal/security"
	"authcore/internal/server/interceptors"
	sessiondomain "authcore/internal/session/domain"
)

// fakeAuth records the last call and returns canned results.
type fakeAuth struct {
	err        error
	login      *service.LoginResult
	pair       *security.Pair
	signupIn   service.SignupInput
	meta       sessiondomain.RequestMeta
	identifier string
	userID     string
	limit      int
}

func (f *fakeAuth) SendSignupOTP(ctx context.Context, username, email string) error { return f.err }
func (f *fakeAuth) VerifySignupOTP(ctx context.Context, email, code string) error { return f.err }

func (f *fakeAuth) Signup(ctx context.Context, in service.SignupInput, meta sessiondomain.RequestMeta) (*service.SignupResult, error) {
	f.signupIn, f.meta = in, meta
	if f.err != nil {
		return nil, f.err
	}
	return &service.SignupResult{
		Identity: &identitydomain.Identity{ID: "u1", Username: in.Username, Email: in.Email},
		Tokens:   f.pair,
	}, nil
}

func (f *fakeAuth) Login(ctx context.Context, identifier, password string, meta sessiondomain.RequestMeta) (*service.LoginResult, error) {
	f.identifier, f.meta = identifier, meta
	return f.login, f.err
}

func (f *fakeAuth) VerifyTwoFactorLogin(ctx context.Context, email, code string, meta sessiondomain.RequestMeta) (*service.LoginResult, error) {
	return f.login, f.err
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) (*security.Pair, error) {
	return f.pair, f.err
}

func (f *fakeAuth) Logout(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) error {
	return f.err
}

func (f *fakeAuth) SendPasswordResetOTP(ctx context.Context, identifier string, meta sessiondomain.RequestMeta) error {
	return f.err
}

func (f *fakeAuth) ResetPassword(ctx context.Context, in service.ResetPasswordInput, meta sessiondomain.RequestMeta) error {
	return f.err
}

func (f *fakeAuth) Profile(ctx context.Context, userID string) (*identitydomain.Identity, error) {
	f.userID = userID
	return &identitydomain.Identity{ID: userID, Username: "alice"}, f.err
}

func (f *fakeAuth) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.RefreshSession, error) {
	f.userID = userID
	now := time.Now()
	return []*sessiondomain.RefreshSession{{ID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}}, f.err
}

func (f *fakeAuth) ListAuditEvents(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditEvent, error) {
	f.userID, f.limit = userID, limit
	return []*auditdomain.AuditEvent{{ID: "e1", Action: auditdomain.ActionLogin}}, f.err
}

func testPair() *security.Pair {
	now := time.Now()
	return &security.Pair{
		AccessToken: "access", AccessExpiresAt: now.Add(15 * time.Minute),
		RefreshToken: "refresh", RefreshIssuedAt: now, RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
	}
}

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return s
}

func TestNilAuthService(t *testing.T) {
	srv := NewAuthServer(nil, nil)
	_, err := srv.Login(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.Unimplemented {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unimplemented)
	}
}

func TestLogin_ReturnsTokens(t *testing.T) {
	auth := &fakeAuth{login: &service.LoginResult{UserID: "u1", Email: "a@x.com", Tokens: testPair()}}
	srv := NewAuthServer(auth, nil)
	ctx := interceptors.WithRequestMeta(context.Background(), sessiondomain.RequestMeta{IP: "10.1.1.1"})

	resp, err := srv.Login(ctx, mustStruct(t, map[string]interface{}{"identifier": "alice", "password": "pw"}))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if auth.identifier != "alice" || auth.meta.IP != "10.1.1.1" {
		t.Errorf("service got identifier %q meta %+v", auth.identifier, auth.meta)
	}
	fields := resp.GetFields()
	if fields["requires_2fa"].GetBoolValue() {
		t.Error("requires_2fa should be false")
	}
	tokens := fields["tokens"].GetStructValue().GetFields()
	if tokens["access_token"].GetStringValue() != "access" || tokens["refresh_token"].GetStringValue() != "refresh" {
		t.Errorf("tokens = %v", tokens)
	}
}

func TestLogin_TwoFactorOmitsTokens(t *testing.T) {
	auth := &fakeAuth{login: &service.LoginResult{Requires2FA: true, UserID: "u1", Email: "a@x.com"}}
	resp, err := NewAuthServer(auth, nil).Login(context.Background(), &structpb.Struct{})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !resp.GetFields()["requires_2fa"].GetBoolValue() {
		t.Error("requires_2fa should be true")
	}
	if _, ok := resp.GetFields()["tokens"]; ok {
		t.Error("tokens must be absent until 2FA completes")
	}
}

func TestSignup_PassesFields(t *testing.T) {
	auth := &fakeAuth{pair: testPair()}
	req := mustStruct(t, map[string]interface{}{
		"first_name": "Ada", "last_name": "L", "username": "ada", "email": "ada@x.com",
		"password": "pw", "confirm_password": "pw", "otp": "123456",
	})
	resp, err := NewAuthServer(auth, nil).Signup(context.Background(), req)
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if auth.signupIn.OTP != "123456" || auth.signupIn.ConfirmPassword != "pw" || auth.signupIn.FirstName != "Ada" {
		t.Errorf("input = %+v", auth.signupIn)
	}
	user := resp.GetFields()["user"].GetStructValue().GetFields()
	if user["username"].GetStringValue() != "ada" {
		t.Errorf("user = %v", user)
	}
	if _, ok := user["password_hash"]; ok {
		t.Error("password hash must never be returned")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"validation", apperr.Validation("email is required"), codes.InvalidArgument, "email is required"},
		{"invalid credentials", service.ErrInvalidCredentials, codes.Unauthenticated, msgInvalidCredentials},
		{"account unavailable", apperr.New(apperr.KindUnauthorized, "account_unavailable", "banned"), codes.Unauthenticated, msgInvalidCredentials},
		{"code expired", otp.ErrCodeExpired, codes.Unauthenticated, msgInvalidCode},
		{"code mismatch", otp.ErrCodeMismatch, codes.Unauthenticated, msgInvalidCode},
		{"conflict", identityrepo.ErrIdentityExists, codes.AlreadyExists, identityrepo.ErrIdentityExists.Msg},
		{"reuse", rotation.ErrTokenReused, codes.Unauthenticated, msgReauthenticate},
		{"unavailable", apperr.Unavailable("kv down", errors.New("dial tcp")), codes.Unavailable, msgUnavailable},
		{"not found", identityrepo.ErrIdentityNotFound, codes.NotFound, identityrepo.ErrIdentityNotFound.Msg},
		{"code attempts exceeded", otp.ErrTooManyAttempts, codes.ResourceExhausted, otp.ErrTooManyAttempts.Msg},
		{"login throttled", ratelimit.ErrTooManyAttempts, codes.ResourceExhausted, ratelimit.ErrTooManyAttempts.Msg},
		{"unknown", errors.New("boom"), codes.Internal, msgInternal},
		{"canceled", context.Canceled, codes.Canceled, "request canceled"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewAuthServer(&fakeAuth{err: tc.err}, nil).Refresh(context.Background(), &structpb.Struct{})
			st, ok := status.FromError(err)
			if !ok {
				t.Fatalf("not a status: %v", err)
			}
			if st.Code() != tc.code || st.Message() != tc.msg {
				t.Errorf("got %v %q, want %v %q", st.Code(), st.Message(), tc.code, tc.msg)
			}
		})
	}
}

func TestProtectedMethods_RequirePrincipal(t *testing.T) {
	auth := &fakeAuth{}
	srv := NewAuthServer(auth, nil)
	if _, err := srv.WhoAmI(context.Background(), &structpb.Struct{}); status.Code(err) != codes.Unauthenticated {
		t.Errorf("WhoAmI without principal: %v", err)
	}

	ctx := interceptors.WithPrincipal(context.Background(), identitydomain.Principal{UserID: "u9"})
	resp, err := srv.ListSessions(ctx, &structpb.Struct{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if auth.userID != "u9" {
		t.Errorf("service called for %q", auth.userID)
	}
	if n := len(resp.GetFields()["sessions"].GetListValue().GetValues()); n != 1 {
		t.Errorf("sessions = %d", n)
	}

	_, err = srv.ListAuditEvents(ctx, mustStruct(t, map[string]interface{}{"limit": 5}))
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if auth.limit != 5 {
		t.Errorf("limit = %d", auth.limit)
	}
}

func TestPublicMethods(t *testing.T) {
	public := PublicMethods()
	for _, m := range []string{"Login", "Signup", "Refresh", "Logout", "SendPasswordResetOTP"} {
		if !public[FullMethod(m)] {
			t.Errorf("%s should be public", m)
		}
	}
	for _, m := range protectedMethods {
		if public[FullMethod(m)] {
			t.Errorf("%s should require authentication", m)
		}
	}
}

type captureRegistrar struct {
	desc *grpc.ServiceDesc
	impl interface{}
}

func (c *captureRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	c.desc, c.impl = desc, impl
}

func TestServiceDesc_DispatchesThroughInterceptor(t *testing.T) {
	reg := &captureRegistrar{}
	auth := &fakeAuth{pair: testPair()}
	RegisterAuthServiceServer(reg, NewAuthServer(auth, nil))
	if reg.desc.ServiceName != ServiceName {
		t.Fatalf("service name = %q", reg.desc.ServiceName)
	}

	var refresh grpc.MethodDesc
	for _, m := range reg.desc.Methods {
		if m.MethodName == "Refresh" {
			refresh = m
		}
	}
	if refresh.Handler == nil {
		t.Fatal("Refresh not registered")
	}

	dec := func(v interface{}) error {
		v.(*structpb.Struct).Fields = map[string]*structpb.Value{"refresh_token": structpb.NewStringValue("r")}
		return nil
	}
	var seen string
	interceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		seen = info.FullMethod
		return handler(ctx, req)
	}
	out, err := refresh.Handler(reg.impl, context.Background(), dec, interceptor)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if seen != FullMethod("Refresh") {
		t.Errorf("interceptor saw %q", seen)
	}
	if out.(*structpb.Struct).GetFields()["tokens"] == nil {
		t.Error("missing tokens in response")
	}
}

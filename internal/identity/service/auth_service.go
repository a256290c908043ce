// Package service composes the OTP manager, the rotation engine and the identity store into
// the signup, login, 2FA, logout and password-reset flows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"authcore/internal/apperr"
	"authcore/internal/audit"
	auditdomain "authcore/internal/audit/domain"
	auditrepo "authcore/internal/audit/repository"
	"authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/otp"
	policyengine "authcore/internal/policy/engine"
	"authcore/internal/ratelimit"
	"authcore/internal/rotation"
	"authcore/internal/security"
	sessiondomain "authcore/internal/session/domain"
)

var (
	// ErrInvalidCredentials is returned for any login failure that must not reveal whether the
	// identifier exists.
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "invalid_credentials", "invalid username/email or password")
	// ErrSignupNotVerified is returned when signup is attempted without a verified signup code.
	ErrSignupNotVerified = apperr.New(apperr.KindUnauthorized, "signup_not_verified", "email has not been verified")
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// LoginResult is the outcome of a password login. When Requires2FA is set, Tokens is nil and a
// 2FA code has been sent to Email.
type LoginResult struct {
	Requires2FA bool
	UserID      string
	Email       string
	Tokens      *security.Pair
}

// SignupInput carries the signup form. OTP may be empty when the code was verified earlier
// through VerifySignupOTP.
type SignupInput struct {
	FirstName       string
	LastName        string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	OTP             string
}

// SignupResult is the created identity and its first credential pair.
type SignupResult struct {
	Identity *domain.Identity
	Tokens   *security.Pair
}

// ResetPasswordInput carries the password-reset form.
type ResetPasswordInput struct {
	Email           string
	OTP             string
	Password        string
	ConfirmPassword string
}

// AuthService is the auth orchestrator.
type AuthService struct {
	identities identityrepo.Repository
	audits     auditrepo.Repository
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	codes      *otp.Manager
	rotation   *rotation.Engine
	policy     policyengine.Evaluator
	auditor    audit.Recorder
	logger     *slog.Logger
	limiter    *ratelimit.LoginLimiter
	logins     metric.Int64Counter

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService returns an AuthService. audits backs ListAuditEvents and may be nil, as may
// auditor and logger.
func NewAuthService(
	identities identityrepo.Repository,
	audits auditrepo.Repository,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	codes *otp.Manager,
	engine *rotation.Engine,
	policy policyengine.Evaluator,
	auditor audit.Recorder,
	logger *slog.Logger,
) *AuthService {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AuthService{
		identities: identities,
		audits:     audits,
		hasher:     hasher,
		tokens:     tokens,
		codes:      codes,
		rotation:   engine,
		policy:     policy,
		auditor:    auditor,
		logger:     logger,
	}
	counter, err := otel.Meter("authcore/identity").Int64Counter("authcore.logins",
		metric.WithDescription("Password and 2FA logins, by outcome"))
	if err == nil {
		s.logins = counter
	}
	return s
}

// SetLoginLimiter enables failed-login throttling for Login. A nil limiter disables it.
func (s *AuthService) SetLoginLimiter(l *ratelimit.LoginLimiter) {
	s.limiter = l
}

// SendSignupOTP sends a signup code to email. It fails with a conflict when username or
// email is already registered.
func (s *AuthService) SendSignupOTP(ctx context.Context, username, email string) error {
	username = domain.NormalizeUsername(username)
	email = domain.NormalizeEmail(email)
	if err := validateUsername(username); err != nil {
		return err
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	return s.codes.Issue(ctx, otp.PurposeSignup, otp.Recipient{Email: email, Username: username})
}

// VerifySignupOTP consumes a signup code ahead of Signup, which then accepts the verified
// email without a code.
func (s *AuthService) VerifySignupOTP(ctx context.Context, email, code string) error {
	email = domain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if err := validateCode(code); err != nil {
		return err
	}
	return s.codes.Verify(ctx, otp.PurposeSignup, email, code)
}

// Signup creates an identity once its email is verified and opens its first session.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, meta sessiondomain.RequestMeta) (*SignupResult, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Username = domain.NormalizeUsername(in.Username)
	in.Email = domain.NormalizeEmail(in.Email)
	if err := validateSignup(in); err != nil {
		return nil, err
	}

	if in.OTP != "" {
		if err := s.codes.Verify(ctx, otp.PurposeSignup, in.Email, in.OTP); err != nil {
			return nil, err
		}
	}
	verified, err := s.codes.Verified(ctx, otp.PurposeSignup, in.Email)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, ErrSignupNotVerified
	}

	exists, err := s.identities.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, identityrepo.ErrIdentityExists
	}
	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ident := &domain.Identity{
		ID:           uuid.New().String(),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hashed,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		return nil, err
	}
	if _, err := s.codes.ConsumeVerified(ctx, otp.PurposeSignup, in.Email); err != nil {
		s.logger.WarnContext(ctx, "signup: failed to redeem verified marker", "error", err)
	}
	pair, err := s.rotation.Issue(ctx, ident, meta)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionSignup, meta, ""))
	return &SignupResult{Identity: ident, Tokens: pair}, nil
}

// Login authenticates identifier (email or username) and password. With 2FA enabled it sends
// a code and returns Requires2FA without opening a session.
func (s *AuthService) Login(ctx context.Context, identifier, password string, meta sessiondomain.RequestMeta) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(identifier); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperr.Validation("password is required")
	}
	lookup := identifier
	if strings.Contains(identifier, "@") {
		lookup = domain.NormalizeEmail(identifier)
	}
	if s.limiter != nil {
		if err := s.limiter.Check(ctx, lookup, meta.IP); err != nil {
			if apperr.KindOf(err) == apperr.KindRateLimited {
				s.auditor.Record(ctx, entry("", auditdomain.ActionLoginFailed, meta, `{"reason":"rate_limited"}`))
				s.count(ctx, "rate_limited")
			}
			return nil, err
		}
	}
	ident, err := s.identities.GetByIdentifier(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		// Spend the same bcrypt work as a real comparison.
		s.hasher.Verify(password, s.dummy())
		s.recordFailure(ctx, lookup, meta)
		s.auditor.Record(ctx, entry("", auditdomain.ActionLoginFailed, meta, `{"reason":"unknown_identifier"}`))
		s.count(ctx, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, ident.PasswordHash) {
		s.recordFailure(ctx, lookup, meta)
		s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionLoginFailed, meta, ""))
		s.count(ctx, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if s.limiter != nil {
		if err := s.limiter.Reset(ctx, lookup); err != nil {
			s.logger.WarnContext(ctx, "login: failed to reset attempt counter", "error", err)
		}
	}
	if err := policyengine.CheckUsable(ctx, s.policy, ident, policyengine.ActionLogin); err != nil {
		s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionLoginFailed, meta, `{"reason":"account_unavailable"}`))
		s.count(ctx, "account_unavailable")
		return nil, err
	}

	if ident.TwoFactorEnabled {
		if err := s.codes.Issue(ctx, otp.PurposeTwoFactorLogin, otp.Recipient{Email: ident.Email, Username: ident.Username}); err != nil {
			return nil, err
		}
		s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionOTPIssued, meta, `{"purpose":"2fa-login"}`))
		s.count(ctx, "requires_2fa")
		return &LoginResult{Requires2FA: true, UserID: ident.ID, Email: ident.Email}, nil
	}
	return s.completeLogin(ctx, ident, meta)
}

// VerifyTwoFactorLogin completes a login that returned Requires2FA.
func (s *AuthService) VerifyTwoFactorLogin(ctx context.Context, email, code string, meta sessiondomain.RequestMeta) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validateCode(code); err != nil {
		return nil, err
	}
	if err := s.codes.Verify(ctx, otp.PurposeTwoFactorLogin, email, code); err != nil {
		s.count(ctx, "2fa_failed")
		return nil, err
	}
	verified, err := s.codes.ConsumeVerified(ctx, otp.PurposeTwoFactorLogin, email)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, otp.ErrCodeExpired
	}
	// Reload: the account may have changed while the code was outstanding.
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := policyengine.CheckUsable(ctx, s.policy, ident, policyengine.ActionLogin); err != nil {
		s.count(ctx, "account_unavailable")
		return nil, err
	}
	return s.completeLogin(ctx, ident, meta)
}

func (s *AuthService) completeLogin(ctx context.Context, ident *domain.Identity, meta sessiondomain.RequestMeta) (*LoginResult, error) {
	pair, err := s.rotation.Issue(ctx, ident, meta)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionLogin, meta, ""))
	s.count(ctx, "success")
	return &LoginResult{UserID: ident.ID, Email: ident.Email, Tokens: pair}, nil
}

// Refresh rotates a refresh token. See rotation.Engine.Rotate.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) (*security.Pair, error) {
	if refreshToken == "" {
		return nil, apperr.Validation("refresh token is required")
	}
	return s.rotation.Rotate(ctx, refreshToken, meta)
}

// Logout revokes the session of refreshToken. Other sessions of the identity stay live.
func (s *AuthService) Logout(ctx context.Context, refreshToken string, meta sessiondomain.RequestMeta) error {
	if refreshToken == "" {
		return apperr.Validation("refresh token is required")
	}
	userID, err := s.rotation.Revoke(ctx, refreshToken)
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, entry(userID, auditdomain.ActionLogout, meta, ""))
	return nil
}

// SendPasswordResetOTP sends a reset code when identifier matches an identity. An unknown
// identifier succeeds silently.
func (s *AuthService) SendPasswordResetOTP(ctx context.Context, identifier string, meta sessiondomain.RequestMeta) error {
	identifier = strings.TrimSpace(identifier)
	if err := validateIdentifier(identifier); err != nil {
		return err
	}
	lookup := identifier
	if strings.Contains(identifier, "@") {
		lookup = domain.NormalizeEmail(identifier)
	}
	ident, err := s.identities.GetByIdentifier(ctx, lookup)
	if err != nil {
		return err
	}
	if ident == nil {
		s.logger.DebugContext(ctx, "password reset requested for unknown identifier")
		return nil
	}
	err = s.codes.Issue(ctx, otp.PurposePasswordReset, otp.Recipient{Email: ident.Email, Username: ident.Username})
	if errors.Is(err, identityrepo.ErrIdentityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionOTPIssued, meta, `{"purpose":"password-reset"}`))
	return nil
}

// ResetPassword replaces the password after verifying a reset code and revokes every live
// session of the identity.
func (s *AuthService) ResetPassword(ctx context.Context, in ResetPasswordInput, meta sessiondomain.RequestMeta) error {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validateCode(in.OTP); err != nil {
		return err
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if err := validateConfirmation(in.Password, in.ConfirmPassword); err != nil {
		return err
	}
	if err := s.codes.Verify(ctx, otp.PurposePasswordReset, in.Email, in.OTP); err != nil {
		return err
	}
	ident, err := s.identities.GetByEmail(ctx, in.Email)
	if err != nil {
		return err
	}
	if err := policyengine.CheckUsable(ctx, s.policy, ident, policyengine.ActionPasswordReset); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return err
	}
	if _, err := s.identities.UpdatePasswordHash(ctx, ident.ID, hashed); err != nil {
		return err
	}
	revoked, err := s.rotation.RevokeAll(ctx, ident.ID, sessiondomain.ReasonPasswordReset)
	if err != nil {
		return err
	}
	s.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionPasswordReset, meta, fmt.Sprintf(`{"revoked":%d}`, revoked)))
	return nil
}

// ValidateAccess verifies an access token and re-checks that its identity may still
// authenticate.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (domain.Principal, error) {
	claims, err := s.tokens.ValidateAccess(accessToken)
	if err != nil {
		return domain.Principal{}, err
	}
	ident, err := s.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		return domain.Principal{}, err
	}
	if err := policyengine.CheckUsable(ctx, s.policy, ident, policyengine.ActionAccess); err != nil {
		return domain.Principal{}, err
	}
	return ident.Principal(), nil
}

// Profile returns the identity for userID with its password hash cleared.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.Identity, error) {
	ident, err := s.identities.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return nil, identityrepo.ErrIdentityNotFound
	}
	ident.PasswordHash = ""
	return ident, nil
}

// ListSessions returns the live sessions of userID, newest first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*sessiondomain.RefreshSession, error) {
	return s.rotation.ListLive(ctx, userID)
}

// ListAuditEvents returns the newest audit events of userID. limit <= 0 selects a default.
func (s *AuthService) ListAuditEvents(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditEvent, error) {
	if s.audits == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return s.audits.ListByUser(ctx, userID, limit)
}

func (s *AuthService) recordFailure(ctx context.Context, lookup string, meta sessiondomain.RequestMeta) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Fail(ctx, lookup, meta.IP); err != nil {
		s.logger.WarnContext(ctx, "login: failed to record attempt", "error", err)
	}
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash([]byte(uuid.New().String()))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func (s *AuthService) count(ctx context.Context, outcome string) {
	if s.logins != nil {
		s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func validateSignup(in SignupInput) error {
	if err := validateFirstName(in.FirstName); err != nil {
		return err
	}
	if err := validateLastName(in.LastName); err != nil {
		return err
	}
	if err := validateUsername(in.Username); err != nil {
		return err
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if err := validatePassword(in.Password); err != nil {
		return err
	}
	if err := validateConfirmation(in.Password, in.ConfirmPassword); err != nil {
		return err
	}
	if in.OTP != "" {
		return validateCode(in.OTP)
	}
	return nil
}

func entry(userID, action string, meta sessiondomain.RequestMeta, metadata string) audit.Entry {
	return audit.Entry{
		UserID:    userID,
		Action:    action,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Location:  meta.Location,
		Metadata:  metadata,
	}
}

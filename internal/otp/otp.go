// Package otp issues and verifies single-use numeric codes for signup, 2FA login and
// password reset.
package otp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"authcore/internal/apperr"
	identitydomain "authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/kv"
	"authcore/internal/notify"
	"authcore/internal/security"
)

// Purpose scopes a code. Codes for one purpose never verify for another.
type Purpose string

const (
	PurposeSignup         Purpose = "signup"
	PurposeTwoFactorLogin Purpose = "2fa-login"
	PurposePasswordReset  Purpose = "password-reset"
)

const (
	codeDigits = 6
	codeSpace  = 1_000_000

	DefaultTTL         = 10 * time.Minute
	DefaultVerifiedTTL = 10 * time.Minute
	DefaultMaxAttempts = 5
)

var (
	ErrCodeExpired       = apperr.New(apperr.KindUnauthorized, "code_expired", "code expired or not found")
	ErrCodeMismatch      = apperr.New(apperr.KindUnauthorized, "code_mismatch", "invalid code")
	ErrInvalidCodeFormat = apperr.New(apperr.KindValidation, "invalid_code_format", "code must be exactly 6 digits")
	ErrUnknownPurpose    = apperr.New(apperr.KindValidation, "unknown_purpose", "unknown code purpose")
	ErrTooManyAttempts   = apperr.New(apperr.KindRateLimited, "attempts_exceeded", "too many attempts; request a new code")
)

// Recipient identifies who a code is for.
type Recipient struct {
	Email    string
	Username string
}

// Manager issues and verifies one-time codes. At most one live code exists per
// (purpose, email); issuing again overwrites it.
type Manager struct {
	store       kv.Store
	hasher      *security.Hasher
	identities  identityrepo.Repository
	dispatcher  notify.Dispatcher
	logger      *slog.Logger
	ttl         time.Duration
	verifiedTTL time.Duration
	maxAttempts int64
	generate    func() (string, error)
	issued      metric.Int64Counter
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the code lifetime.
func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithVerifiedTTL sets the lifetime of the verified marker written after a successful verification.
func WithVerifiedTTL(d time.Duration) Option { return func(m *Manager) { m.verifiedTTL = d } }

// WithMaxAttempts sets how many wrong guesses burn a live code. Values below one are ignored.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = int64(n)
		}
	}
}

// WithCodeGenerator replaces the random code source. Intended for tests.
func WithCodeGenerator(fn func() (string, error)) Option { return func(m *Manager) { m.generate = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// NewManager returns a Manager. dispatcher delivers codes synchronously so a delivery failure
// is reported to the caller.
func NewManager(store kv.Store, hasher *security.Hasher, identities identityrepo.Repository, dispatcher notify.Dispatcher, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		hasher:      hasher,
		identities:  identities,
		dispatcher:  dispatcher,
		logger:      slog.Default(),
		ttl:         DefaultTTL,
		verifiedTTL: DefaultVerifiedTTL,
		maxAttempts: DefaultMaxAttempts,
		generate:    GenerateCode,
	}
	for _, o := range opts {
		o(m)
	}
	counter, err := otel.Meter("authcore/otp").Int64Counter("authcore.otp.issued",
		metric.WithDescription("One-time codes issued, by purpose"))
	if err == nil {
		m.issued = counter
	}
	return m
}

// TTL returns the code lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// GenerateCode returns a uniformly random 6-digit code, zero-padded.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

// ValidCodeFormat reports whether code is exactly six ASCII digits.
func ValidCodeFormat(code string) bool {
	if len(code) != codeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Issue generates a code for purpose, stores its hash under purpose:email with the code TTL,
// and dispatches the plaintext. Signup codes require that neither username nor email is
// registered; other purposes require the email to belong to an identity.
func (m *Manager) Issue(ctx context.Context, purpose Purpose, to Recipient) error {
	email := identitydomain.NormalizeEmail(to.Email)
	if err := m.checkEligible(ctx, purpose, to.Username, email); err != nil {
		return err
	}
	code, err := m.generate()
	if err != nil {
		return err
	}
	digest, err := m.hasher.Hash([]byte(code))
	if err != nil {
		return err
	}
	key := codeKey(purpose, email)
	if err := m.store.Set(ctx, key, digest, m.ttl); err != nil {
		return err
	}
	if err := m.store.Del(ctx, attemptsKey(purpose, email)); err != nil {
		return err
	}
	if err := m.dispatcher.Send(ctx, message(purpose, email, to.Username, code, m.ttl)); err != nil {
		if delErr := m.store.Del(ctx, key); delErr != nil {
			m.logger.WarnContext(ctx, "otp: failed to discard undelivered code", "purpose", string(purpose), "error", delErr)
		}
		return apperr.Unavailable("could not deliver code", err)
	}
	if m.issued != nil {
		m.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("purpose", string(purpose))))
	}
	return nil
}

// Verify consumes the live code for (purpose, email) if candidate matches it. A code verifies
// at most once, even under concurrent verification. Each wrong guess is counted against the
// live code; the guess that reaches the attempt limit burns it and returns ErrTooManyAttempts.
// Successful signup and 2FA verifications leave a verified marker that ConsumeVerified can
// redeem.
func (m *Manager) Verify(ctx context.Context, purpose Purpose, email, candidate string) error {
	if !ValidCodeFormat(candidate) {
		return ErrInvalidCodeFormat
	}
	email = identitydomain.NormalizeEmail(email)
	key := codeKey(purpose, email)
	digest, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeExpired
	}
	if !m.hasher.Verify(candidate, digest) {
		return m.recordMiss(ctx, purpose, email, digest)
	}
	deleted, err := m.store.CompareAndDelete(ctx, key, digest)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrCodeExpired
	}
	if err := m.store.Del(ctx, attemptsKey(purpose, email)); err != nil {
		m.logger.WarnContext(ctx, "otp: failed to clear attempt counter", "purpose", string(purpose), "error", err)
	}
	if purpose == PurposeSignup || purpose == PurposeTwoFactorLogin {
		if err := m.store.Set(ctx, verifiedKey(purpose, email), "1", m.verifiedTTL); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) recordMiss(ctx context.Context, purpose Purpose, email, digest string) error {
	key := attemptsKey(purpose, email)
	n, err := m.store.Incr(ctx, key, m.ttl)
	if err != nil {
		return err
	}
	if n < m.maxAttempts {
		return ErrCodeMismatch
	}
	if _, err := m.store.CompareAndDelete(ctx, codeKey(purpose, email), digest); err != nil {
		return err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return err
	}
	m.logger.WarnContext(ctx, "otp: code burned after repeated misses", "purpose", string(purpose), "attempts", n)
	return ErrTooManyAttempts
}

// Verified reports whether a verified marker for (purpose, email) is live without redeeming it.
func (m *Manager) Verified(ctx context.Context, purpose Purpose, email string) (bool, error) {
	_, ok, err := m.store.Get(ctx, verifiedKey(purpose, identitydomain.NormalizeEmail(email)))
	return ok, err
}

// ConsumeVerified redeems the verified marker for (purpose, email). It returns true at most
// once per successful verification.
func (m *Manager) ConsumeVerified(ctx context.Context, purpose Purpose, email string) (bool, error) {
	return m.store.CompareAndDelete(ctx, verifiedKey(purpose, identitydomain.NormalizeEmail(email)), "1")
}

func (m *Manager) checkEligible(ctx context.Context, purpose Purpose, username, email string) error {
	switch purpose {
	case PurposeSignup:
		exists, err := m.identities.ExistsByUsernameOrEmail(ctx, identitydomain.NormalizeUsername(username), email)
		if err != nil {
			return err
		}
		if exists {
			return identityrepo.ErrIdentityExists
		}
		return nil
	case PurposeTwoFactorLogin, PurposePasswordReset:
		ident, err := m.identities.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if ident == nil {
			return identityrepo.ErrIdentityNotFound
		}
		return nil
	default:
		return ErrUnknownPurpose
	}
}

func message(purpose Purpose, email, username, code string, ttl time.Duration) notify.Message {
	switch purpose {
	case PurposeSignup:
		return notify.SignupCode(email, username, code, ttl)
	case PurposeTwoFactorLogin:
		return notify.TwoFactorCode(email, username, code, ttl)
	default:
		return notify.PasswordResetCode(email, username, code, ttl)
	}
}

func codeKey(purpose Purpose, email string) string {
	return string(purpose) + ":" + email
}

func attemptsKey(purpose Purpose, email string) string {
	return "attempts:" + string(purpose) + ":" + email
}

func verifiedKey(purpose Purpose, email string) string {
	return "verified:" + string(purpose) + ":" + email
}

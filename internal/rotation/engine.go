// Package rotation implements the refresh-token lifecycle: issuing sessions, rotating them,
// detecting reuse of rotated tokens, and revoking sessions.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"authcore/internal/apperr"
	"authcore/internal/audit"
	auditdomain "authcore/internal/audit/domain"
	identitydomain "authcore/internal/identity/domain"
	identityrepo "authcore/internal/identity/repository"
	"authcore/internal/notify"
	policyengine "authcore/internal/policy/engine"
	"authcore/internal/security"
	sessiondomain "authcore/internal/session/domain"
	sessionrepo "authcore/internal/session/repository"
)

// ErrTokenReused is returned when a refresh token that is no longer live is presented. The
// configured reuse response has already been applied when it is returned.
var ErrTokenReused = apperr.New(apperr.KindSecurityIncident, "token_reused", "refresh token reuse detected; sessions revoked")

// ReuseResponse selects which sessions are revoked when reuse is detected.
type ReuseResponse string

const (
	// RevokeAll revokes every live session of the identity.
	RevokeAll ReuseResponse = "revoke_all"
	// RevokeLineage revokes only the sessions descending from the replayed token.
	RevokeLineage ReuseResponse = "revoke_lineage"
)

// ParseReuseResponse parses a configured reuse response. Empty selects RevokeAll.
func ParseReuseResponse(s string) (ReuseResponse, error) {
	switch ReuseResponse(s) {
	case "", RevokeAll:
		return RevokeAll, nil
	case RevokeLineage:
		return RevokeLineage, nil
	default:
		return "", fmt.Errorf("unknown reuse response %q (want revoke_all or revoke_lineage)", s)
	}
}

// Deps holds the Engine's collaborators. Alerts should be non-blocking (see notify.AsyncDispatcher).
type Deps struct {
	Identities    identityrepo.Repository
	Sessions      sessionrepo.Repository
	Tokens        *security.TokenProvider
	Policy        policyengine.Evaluator
	Auditor       audit.Recorder
	Alerts        notify.Dispatcher
	Logger        *slog.Logger
	ReuseResponse ReuseResponse
	Now           func() time.Time
}

// Engine is the refresh-token state machine. A session moves from live to exactly one of
// rotated, revoked or expired and never leaves that state.
type Engine struct {
	identities identityrepo.Repository
	sessions   sessionrepo.Repository
	tokens     *security.TokenProvider
	policy     policyengine.Evaluator
	auditor    audit.Recorder
	alerts     notify.Dispatcher
	logger     *slog.Logger
	reuse      ReuseResponse
	now        func() time.Time
	rotations  metric.Int64Counter
}

// NewEngine returns an Engine. Auditor, Alerts, Logger, ReuseResponse and Now are optional.
func NewEngine(d Deps) *Engine {
	e := &Engine{
		identities: d.Identities,
		sessions:   d.Sessions,
		tokens:     d.Tokens,
		policy:     d.Policy,
		auditor:    d.Auditor,
		alerts:     d.Alerts,
		logger:     d.Logger,
		reuse:      d.ReuseResponse,
		now:        d.Now,
	}
	if e.auditor == nil {
		e.auditor = audit.Nop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.reuse == "" {
		e.reuse = RevokeAll
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	counter, err := otel.Meter("authcore/rotation").Int64Counter("authcore.rotations",
		metric.WithDescription("Refresh token rotations, by outcome"))
	if err == nil {
		e.rotations = counter
	}
	return e
}

// Issue mints a credential pair for ident and records its refresh token as the root of a new
// session chain.
func (e *Engine) Issue(ctx context.Context, ident *identitydomain.Identity, meta sessiondomain.RequestMeta) (*security.Pair, error) {
	pair, err := e.tokens.IssuePair(subject(ident))
	if err != nil {
		return nil, err
	}
	if err := e.sessions.Create(ctx, newSession(ident.ID, pair, meta)); err != nil {
		return nil, err
	}
	return pair, nil
}

// Rotate exchanges a live refresh token for a new pair. Presenting a token that verifies but is
// no longer live triggers the reuse response and returns ErrTokenReused.
func (e *Engine) Rotate(ctx context.Context, presented string, meta sessiondomain.RequestMeta) (*security.Pair, error) {
	claims, err := e.tokens.ValidateRefresh(presented)
	if err != nil {
		e.count(ctx, "invalid")
		return nil, security.ErrInvalidToken
	}
	ident, err := e.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if err := policyengine.CheckUsable(ctx, e.policy, ident, policyengine.ActionRefresh); err != nil {
		e.count(ctx, "account_unavailable")
		return nil, err
	}

	pair, err := e.tokens.IssuePair(subject(ident))
	if err != nil {
		return nil, err
	}
	presentedHash := security.HashRefreshToken(presented)
	child := newSession(ident.ID, pair, meta)
	if _, err := e.sessions.Rotate(ctx, presentedHash, ident.ID, child, e.now()); err != nil {
		if errors.Is(err, sessionrepo.ErrSessionNotLive) {
			return nil, e.handleReuse(ctx, ident, presentedHash, meta)
		}
		return nil, err
	}

	e.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionRefreshTokenRotated, meta, ""))
	e.count(ctx, "rotated")
	return pair, nil
}

// Revoke ends the live session for presented (logout) and returns its owner. Sibling sessions
// are untouched. The token's signature is verified first so arbitrary strings never reach the
// session store.
func (e *Engine) Revoke(ctx context.Context, presented string) (string, error) {
	claims, err := e.tokens.ValidateRefresh(presented)
	if err != nil {
		return "", security.ErrInvalidToken
	}
	if _, err := e.sessions.Revoke(ctx, security.HashRefreshToken(presented), claims.Subject, sessiondomain.ReasonLogout, e.now()); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// RevokeAll revokes every live session of userID and returns how many were revoked.
func (e *Engine) RevokeAll(ctx context.Context, userID, reason string) (int64, error) {
	return e.sessions.RevokeAllForUser(ctx, userID, reason, e.now())
}

// ListLive returns the live sessions of userID, newest first.
func (e *Engine) ListLive(ctx context.Context, userID string) ([]*sessiondomain.RefreshSession, error) {
	return e.sessions.ListLiveByUser(ctx, userID, e.now())
}

func (e *Engine) handleReuse(ctx context.Context, ident *identitydomain.Identity, presentedHash string, meta sessiondomain.RequestMeta) error {
	now := e.now()
	var (
		revoked int64
		err     error
	)
	switch e.reuse {
	case RevokeLineage:
		revoked, err = e.sessions.RevokeLineage(ctx, presentedHash, sessiondomain.ReasonReuseDetected, now)
	default:
		revoked, err = e.sessions.RevokeAllForUser(ctx, ident.ID, sessiondomain.ReasonReuseDetected, now)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "rotation: reuse response failed", "user_id", ident.ID, "error", err)
		return apperr.Unavailable("could not revoke sessions after token reuse", err)
	}

	e.logger.WarnContext(ctx, "rotation: refresh token reuse detected",
		"user_id", ident.ID, "response", string(e.reuse), "revoked", revoked, "ip", meta.IP)
	e.auditor.Record(ctx, entry(ident.ID, auditdomain.ActionReuseDetected, meta,
		fmt.Sprintf(`{"response":%q,"revoked":%d}`, e.reuse, revoked)))
	e.count(ctx, "reuse_detected")

	if e.alerts != nil {
		if err := e.alerts.Send(ctx, notify.ReuseAlert(ident.Email, ident.Username, now, meta.IP, meta.UserAgent)); err != nil {
			e.logger.WarnContext(ctx, "rotation: reuse alert dispatch failed", "user_id", ident.ID, "error", err)
		}
	}
	return ErrTokenReused
}

func (e *Engine) count(ctx context.Context, outcome string) {
	if e.rotations != nil {
		e.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func subject(ident *identitydomain.Identity) security.Subject {
	return security.Subject{ID: ident.ID, Username: ident.Username, Email: ident.Email}
}

func newSession(userID string, pair *security.Pair, meta sessiondomain.RequestMeta) *sessiondomain.RefreshSession {
	return &sessiondomain.RefreshSession{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: security.HashRefreshToken(pair.RefreshToken),
		IssuedAt:  pair.RefreshIssuedAt,
		ExpiresAt: pair.RefreshExpiresAt,
		Valid:     true,
		Meta:      meta,
	}
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

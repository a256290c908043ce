package repository

import (
	"context"
	"time"

	"authcore/internal/apperr"
	"authcore/internal/session/domain"
)

// ErrSessionNotLive is returned when a rotation or revocation targets a session that is
// missing, already rotated or revoked, expired, or owned by another identity.
var ErrSessionNotLive = apperr.New(apperr.KindNotFound, "session_not_live", "no live session for token")

// Repository defines persistence for refresh sessions. Sessions are addressed by the hash of
// their token. Lookups return nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, s *domain.RefreshSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error)
	// FindLive returns the session for tokenHash only if it belongs to userID and is live at now.
	FindLive(ctx context.Context, tokenHash, userID string, now time.Time) (*domain.RefreshSession, error)
	// Rotate atomically marks the live parent rotated and inserts child with RotatedFrom set to
	// the parent's hash. Of two concurrent calls for the same parent exactly one succeeds; the
	// other gets ErrSessionNotLive. Returns the updated parent.
	Rotate(ctx context.Context, parentHash, userID string, child *domain.RefreshSession, now time.Time) (*domain.RefreshSession, error)
	// Revoke revokes the live session for tokenHash owned by userID and returns it.
	Revoke(ctx context.Context, tokenHash, userID, reason string, now time.Time) (*domain.RefreshSession, error)
	// RevokeAllForUser revokes every live session of userID and returns how many were revoked.
	RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error)
	// RevokeLineage revokes the live sessions descending from tokenHash (inclusive).
	RevokeLineage(ctx context.Context, tokenHash, reason string, now time.Time) (int64, error)
	ListLiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error)
}

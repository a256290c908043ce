package domain

import "time"

// RequestMeta is the client context captured with a session or audit event.
type RequestMeta struct {
	IP        string
	UserAgent string
	Location  string
}

// Revoke reasons recorded on terminal sessions.
const (
	ReasonRotated       = "rotated"
	ReasonLogout        = "logout"
	ReasonReuseDetected = "reuse_detected"
	ReasonPasswordReset = "password_reset"
)

// State is the lifecycle state of a refresh session. Every state except StateLive is terminal.
type State string

const (
	StateLive    State = "live"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// RefreshSession is the durable record of one issued refresh token. The token itself is never
// stored; TokenHash is its SHA-256 hex digest and RotatedFrom is the parent's digest.
type RefreshSession struct {
	ID           string
	UserID       string
	TokenHash    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Valid        bool
	RevokedAt    *time.Time
	RevokeReason string
	RotatedFrom  string // empty for the root of a chain
	LastUsedAt   *time.Time
	Meta         RequestMeta
}

// IsLive reports whether the session can still be rotated or revoked at now.
func (s *RefreshSession) IsLive(now time.Time) bool {
	return s.Valid && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// State returns the session's lifecycle state at now.
func (s *RefreshSession) State(now time.Time) State {
	switch {
	case s.RevokeReason == ReasonRotated:
		return StateRotated
	case !s.Valid || s.RevokedAt != nil:
		return StateRevoked
	case !s.ExpiresAt.After(now):
		return StateExpired
	default:
		return StateLive
	}
}

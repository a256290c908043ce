package domain

import "time"

// Audit actions.
const (
	ActionSignup              = "signup"
	ActionLogin               = "login"
	ActionLoginFailed         = "login_failed"
	ActionOTPIssued           = "otp_issued"
	ActionRefreshTokenRotated = "refresh_token_rotated"
	ActionReuseDetected       = "reuse_detected"
	ActionLogout              = "logout"
	ActionPasswordReset       = "password_reset"
)

// AuditEvent is one append-only audit record. UserID is empty when the actor is unknown
// (e.g. a failed login for an unregistered identifier).
type AuditEvent struct {
	ID        string
	UserID    string
	Action    string
	IP        string
	UserAgent string
	Location  string
	Metadata  string
	CreatedAt time.Time
}

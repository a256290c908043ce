package engine

import (
	"context"

	"authcore/internal/apperr"
	identitydomain "authcore/internal/identity/domain"
)

// ErrAccountUnavailable is returned when an identity exists but may not authenticate
// (deleted, banned, deactivated, or suspended). The message does not say which.
var ErrAccountUnavailable = apperr.New(apperr.KindUnauthorized, "account_unavailable", "account is not available")

// Actions passed to the policy as input.action.
const (
	ActionLogin         = "login"
	ActionRefresh       = "refresh"
	ActionAccess        = "access"
	ActionPasswordReset = "password_reset"
)

// Decision is the outcome of an account-usability evaluation.
type Decision struct {
	Allow   bool
	Reasons []string
}

// Evaluator decides whether an identity may authenticate for a given action.
type Evaluator interface {
	Evaluate(ctx context.Context, ident *identitydomain.Identity, action string) (Decision, error)
}

// CheckUsable returns nil when ev allows ident to perform action, ErrAccountUnavailable when
// ident is nil or denied, and an internal error when evaluation itself fails.
func CheckUsable(ctx context.Context, ev Evaluator, ident *identitydomain.Identity, action string) error {
	if ident == nil {
		return ErrAccountUnavailable
	}
	d, err := ev.Evaluate(ctx, ident, action)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "policy_error", "account policy evaluation failed", err)
	}
	if !d.Allow {
		return ErrAccountUnavailable
	}
	return nil
}

// Package apperr defines the error taxonomy shared by the credential and session core.
// Components return *Error values (usually package-level sentinels) so callers and the
// transport boundary can branch on Kind without string matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller is expected to react.
type Kind int

const (
	// KindInternal is an unclassified failure (programming error or unknown cause).
	KindInternal Kind = iota
	// KindValidation is bad input shape; the user corrects and retries.
	KindValidation
	// KindNotFound is an absent identity, code, or session.
	KindNotFound
	// KindUnauthorized means the caller must re-authenticate (bad password, bad/expired code or token).
	KindUnauthorized
	// KindConflict is a uniqueness violation such as a duplicate signup.
	KindConflict
	// KindSecurityIncident is refresh-token reuse; side effects beyond the request were triggered.
	KindSecurityIncident
	// KindUnavailable is a downstream store or dispatcher failure; transient.
	KindUnavailable
	// KindRateLimited means an attempt budget is spent; the caller waits or requests a new code.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindSecurityIncident:
		return "security_incident"
	case KindUnavailable:
		return "unavailable"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a classified failure. Code is a stable machine-readable identifier; two errors
// with the same non-empty Code match under errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
	Err  error
}

// New returns an Error without a cause. Intended for package-level sentinels.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

// Wrap returns an Error of the given kind and code wrapping err.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// Validation returns a KindValidation error carrying a user-facing message.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: "validation", Msg: msg}
}

// Unavailable wraps a downstream failure as KindUnavailable.
func Unavailable(msg string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: "unavailable", Msg: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

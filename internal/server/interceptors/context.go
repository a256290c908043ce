package interceptors

import (
	"context"

	identitydomain "authcore/internal/identity/domain"
	sessiondomain "authcore/internal/session/domain"
)

type contextKey struct{ name string }

var (
	principalKey   = contextKey{"principal"}
	requestMetaKey = contextKey{"request_meta"}
)

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p identitydomain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the principal set by AuthUnary and true, or the zero value and false.
func GetPrincipal(ctx context.Context) (identitydomain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(identitydomain.Principal)
	return p, ok
}

// GetUserID returns the authenticated user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := GetPrincipal(ctx)
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}

// WithRequestMeta returns a context carrying the caller's request metadata.
func WithRequestMeta(ctx context.Context, m sessiondomain.RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey, m)
}

// GetRequestMeta returns the request metadata set by RequestMetaUnary. When absent it
// falls back to whatever can be read from ctx directly.
func GetRequestMeta(ctx context.Context) sessiondomain.RequestMeta {
	if m, ok := ctx.Value(requestMetaKey).(sessiondomain.RequestMeta); ok {
		return m
	}
	return requestMetaFrom(ctx)
}

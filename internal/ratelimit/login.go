// Package ratelimit bounds failed password logins per identifier and per client IP using
// fixed-window counters in the key-value store.
package ratelimit

import (
	"context"
	"strconv"
	"strings"
	"time"

	"authcore/internal/apperr"
	"authcore/internal/kv"
)

const (
	DefaultMaxAttempts   = 5
	DefaultMaxIPAttempts = 20
	DefaultWindow        = 15 * time.Minute
)

// ErrTooManyAttempts is returned while a login budget is spent.
var ErrTooManyAttempts = apperr.New(apperr.KindRateLimited, "login_rate_limited", "too many failed attempts; try again later")

// Config tunes the login limiter. Zero fields take the package defaults.
type Config struct {
	MaxAttempts   int
	MaxIPAttempts int
	Window        time.Duration
}

// LoginLimiter counts failed logins. An identifier or IP with a spent budget is refused until
// its window expires, even with the right password.
type LoginLimiter struct {
	store kv.Store
	cfg   Config
}

// NewLoginLimiter returns a LoginLimiter over store.
func NewLoginLimiter(store kv.Store, cfg Config) *LoginLimiter {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxIPAttempts <= 0 {
		cfg.MaxIPAttempts = DefaultMaxIPAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &LoginLimiter{store: store, cfg: cfg}
}

// Check returns ErrTooManyAttempts when identifier or ip has no attempts left.
func (l *LoginLimiter) Check(ctx context.Context, identifier, ip string) error {
	if err := l.checkCounter(ctx, identifierKey(identifier), l.cfg.MaxAttempts); err != nil {
		return err
	}
	if ip == "" {
		return nil
	}
	return l.checkCounter(ctx, ipKey(ip), l.cfg.MaxIPAttempts)
}

// Fail records a failed attempt against identifier and ip.
func (l *LoginLimiter) Fail(ctx context.Context, identifier, ip string) error {
	if _, err := l.store.Incr(ctx, identifierKey(identifier), l.cfg.Window); err != nil {
		return err
	}
	if ip == "" {
		return nil
	}
	_, err := l.store.Incr(ctx, ipKey(ip), l.cfg.Window)
	return err
}

// Reset clears the identifier counter after a successful login. The IP counter runs out its
// window so one good account cannot launder failures against others.
func (l *LoginLimiter) Reset(ctx context.Context, identifier string) error {
	return l.store.Del(ctx, identifierKey(identifier))
}

func (l *LoginLimiter) checkCounter(ctx context.Context, key string, max int) error {
	v, ok, err := l.store.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	if n >= max {
		return ErrTooManyAttempts
	}
	return nil
}

func identifierKey(identifier string) string {
	return "login:id:" + strings.ToLower(strings.TrimSpace(identifier))
}

func ipKey(ip string) string {
	return "login:ip:" + ip
}

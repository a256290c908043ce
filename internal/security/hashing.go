package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"authcore/internal/apperr"
)

// ErrEmptySecret is returned when a password or one-time code is empty.
var ErrEmptySecret = apperr.New(apperr.KindValidation, "empty_secret", "secret must not be empty")

// ErrSecretTooLong is returned for secrets longer than bcrypt accepts (72 bytes).
var ErrSecretTooLong = apperr.New(apperr.KindValidation, "secret_too_long", "secret must be at most 72 bytes")

// Hasher hashes and verifies secrets (passwords and one-time codes) using bcrypt.
// Callers must not log or persist plaintext secrets.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to bcrypt's valid range.
// Cost 0 selects bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a salted bcrypt digest of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrSecretTooLong
		}
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored digest. bcrypt compares the derived key in
// constant time. Returns nil on match, ErrEmptySecret for an empty secret, or the bcrypt
// error (bcrypt.ErrMismatchedHashAndPassword on mismatch).
func (h *Hasher) Compare(digest string, secret []byte) error {
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), secret)
}

// Verify reports whether secret matches digest. Malformed digests and empty secrets never match.
func (h *Hasher) Verify(secret, digest string) bool {
	return h.Compare(digest, []byte(secret)) == nil
}

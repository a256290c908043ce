package domain

import (
	"strings"
	"time"
)

// Identity is a local account: credentials plus the status flags that decide whether it may
// authenticate. Identities are soft-deleted only.
type Identity struct {
	ID               string
	FirstName        string
	LastName         string
	Username         string
	Email            string
	PasswordHash     string
	Active           bool
	Banned           bool
	Suspended        bool
	Deleted          bool
	TwoFactorEnabled bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Principal is the non-sensitive view of an identity carried in credentials and request context.
type Principal struct {
	UserID   string
	Username string
	Email    string
}

// Principal returns the principal for i.
func (i *Identity) Principal() Principal {
	return Principal{UserID: i.ID, Username: i.Username, Email: i.Email}
}

// NormalizeEmail lower-cases and trims an email so lookups and keys agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username. Usernames compare case-insensitively in storage.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

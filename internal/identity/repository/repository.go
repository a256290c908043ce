package repository

import (
	"context"

	"authcore/internal/apperr"
	"authcore/internal/identity/domain"
)

// ErrIdentityExists is returned by Create when the username or email is already taken.
var ErrIdentityExists = apperr.New(apperr.KindConflict, "identity_exists", "username or email already in use")

// ErrIdentityNotFound is returned by mutations that target a missing identity.
var ErrIdentityNotFound = apperr.New(apperr.KindNotFound, "identity_not_found", "identity not found")

// Repository defines persistence for identities. Lookups return nil, nil when no row matches;
// errors are reserved for store failures. Username and email compare case-insensitively.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	GetByUsername(ctx context.Context, username string) (*domain.Identity, error)
	// GetByIdentifier matches identifier against email or username.
	GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	// Create persists i. The identity must have ID set.
	Create(ctx context.Context, i *domain.Identity) error
	// UpdatePasswordHash replaces the password hash and returns the updated row.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) (*domain.Identity, error)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authcore/internal/apperr"
	"authcore/internal/db"
	"authcore/internal/identity/domain"
)

const identityColumns = `id, first_name, last_name, username, email, password_hash,
	is_active, is_banned, is_suspended, is_deleted, two_factor_enabled, created_at, updated_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the identity for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
}

// GetByEmail returns the identity with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(email) = lower($1)`, email)
}

// GetByUsername returns the identity with the given username, or nil if not found.
func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities WHERE lower(username) = lower($1)`, username)
}

// GetByIdentifier returns the identity whose email or username equals identifier, or nil.
func (r *PostgresRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error) {
	return r.getOne(ctx, `SELECT `+identityColumns+` FROM identities
		WHERE lower(email) = lower($1) OR lower(username) = lower($1) LIMIT 1`, identifier)
}

func (r *PostgresRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM identities WHERE lower(username) = lower($1) OR lower(email) = lower($2))`,
		username, email).Scan(&exists)
	if err != nil {
		return false, apperr.Unavailable("identity store unavailable", err)
	}
	return exists, nil
}

// Create persists the identity. A unique violation maps to ErrIdentityExists.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		i.ID, i.FirstName, i.LastName, i.Username, i.Email, i.PasswordHash,
		i.Active, i.Banned, i.Suspended, i.Deleted, i.TwoFactorEnabled, i.CreatedAt, i.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrIdentityExists
	}
	if err != nil {
		return apperr.Unavailable("identity store unavailable", err)
	}
	return nil
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE identities SET password_hash = $2, updated_at = $3
		WHERE id = $1 RETURNING `+identityColumns, id, passwordHash, time.Now().UTC())
	i, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("identity store unavailable", err)
	}
	return i, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.Identity, error) {
	i, err := scanIdentity(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("identity store unavailable", err)
	}
	return i, nil
}

func scanIdentity(row *sql.Row) (*domain.Identity, error) {
	var i domain.Identity
	err := row.Scan(&i.ID, &i.FirstName, &i.LastName, &i.Username, &i.Email, &i.PasswordHash,
		&i.Active, &i.Banned, &i.Suspended, &i.Deleted, &i.TwoFactorEnabled, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &i, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"authcore/internal/apperr"
	"authcore/internal/db"
	"authcore/internal/session/domain"
)

const sessionColumns = `id, user_id, token_hash, issued_at, expires_at, is_valid, revoked_at,
	revoke_reason, rotated_from, last_used_at, ip_address, user_agent, location`

const liveClause = `is_valid AND revoked_at IS NULL AND expires_at > $3`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *domain.RefreshSession) error {
	if err := insertSession(ctx, r.db, s); err != nil {
		return apperr.Unavailable("session store unavailable", err)
	}
	return nil
}

func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	return s, nil
}

func (r *PostgresRepository) FindLive(ctx context.Context, tokenHash, userID string, now time.Time) (*domain.RefreshSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE token_hash = $1 AND user_id = $2 AND `+liveClause, tokenHash, userID, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	return s, nil
}

// Rotate runs the conditional invalidate and the child insert in one transaction. The UPDATE's
// WHERE clause is re-evaluated after any concurrent writer on the same row commits, so a
// losing rotation matches zero rows.
func (r *PostgresRepository) Rotate(ctx context.Context, parentHash, userID string, child *domain.RefreshSession, now time.Time) (*domain.RefreshSession, error) {
	var parent *domain.RefreshSession
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		p, err := scanSession(tx.QueryRowContext(ctx, `UPDATE refresh_sessions
			SET is_valid = FALSE, revoked_at = $3, revoke_reason = $4, last_used_at = $3
			WHERE token_hash = $1 AND user_id = $2 AND `+liveClause+`
			RETURNING `+sessionColumns, parentHash, userID, now, domain.ReasonRotated))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotLive
		}
		if err != nil {
			return err
		}
		child.RotatedFrom = parentHash
		if err := insertSession(ctx, tx, child); err != nil {
			return err
		}
		parent = p
		return nil
	})
	if errors.Is(err, ErrSessionNotLive) {
		return nil, ErrSessionNotLive
	}
	if err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	return parent, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, tokenHash, userID, reason string, now time.Time) (*domain.RefreshSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `UPDATE refresh_sessions
		SET is_valid = FALSE, revoked_at = $3, revoke_reason = $4, last_used_at = $3
		WHERE token_hash = $1 AND user_id = $2 AND `+liveClause+`
		RETURNING `+sessionColumns, tokenHash, userID, now, reason))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotLive
	}
	if err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	return s, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE refresh_sessions
		SET is_valid = FALSE, revoked_at = $2, revoke_reason = $3
		WHERE user_id = $1 AND is_valid AND revoked_at IS NULL`, userID, now, reason)
	if err != nil {
		return 0, apperr.Unavailable("session store unavailable", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) RevokeLineage(ctx context.Context, tokenHash, reason string, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `WITH RECURSIVE chain AS (
			SELECT id, token_hash FROM refresh_sessions WHERE token_hash = $1
			UNION ALL
			SELECT r.id, r.token_hash FROM refresh_sessions r JOIN chain c ON r.rotated_from = c.token_hash
		)
		UPDATE refresh_sessions
		SET is_valid = FALSE, revoked_at = $2, revoke_reason = $3
		WHERE id IN (SELECT id FROM chain) AND is_valid AND revoked_at IS NULL`, tokenHash, now, reason)
	if err != nil {
		return 0, apperr.Unavailable("session store unavailable", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) ListLiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM refresh_sessions
		WHERE user_id = $1 AND is_valid AND revoked_at IS NULL AND expires_at > $2
		ORDER BY issued_at DESC`, userID, now)
	if err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	defer rows.Close()
	var out []*domain.RefreshSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Unavailable("session store unavailable", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("session store unavailable", err)
	}
	return out, nil
}

func insertSession(ctx context.Context, q db.DBTX, s *domain.RefreshSession) error {
	_, err := q.ExecContext(ctx, `INSERT INTO refresh_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.UserID, s.TokenHash, s.IssuedAt, s.ExpiresAt, s.Valid, nullTime(s.RevokedAt),
		s.RevokeReason, nullString(s.RotatedFrom), nullTime(s.LastUsedAt), s.Meta.IP, s.Meta.UserAgent, s.Meta.Location)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.RefreshSession, error) {
	var (
		s           domain.RefreshSession
		revokedAt   sql.NullTime
		rotatedFrom sql.NullString
		lastUsedAt  sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &s.IssuedAt, &s.ExpiresAt, &s.Valid, &revokedAt,
		&s.RevokeReason, &rotatedFrom, &lastUsedAt, &s.Meta.IP, &s.Meta.UserAgent, &s.Meta.Location)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		s.RevokedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		s.LastUsedAt = &t
	}
	s.RotatedFrom = rotatedFrom.String
	return &s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

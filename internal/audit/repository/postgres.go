package repository

import (
	"context"
	"database/sql"

	"authcore/internal/apperr"
	"authcore/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append persists the event. The event must have ID set.
func (r *PostgresRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_events
		(id, user_id, action, ip_address, user_agent, location, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, e.Action, e.IP, e.UserAgent, e.Location, e.Metadata, e.CreatedAt)
	if err != nil {
		return apperr.Unavailable("audit store unavailable", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, action, ip_address, user_agent, location, metadata, created_at
		FROM audit_events WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperr.Unavailable("audit store unavailable", err)
	}
	defer rows.Close()
	var out []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.IP, &e.UserAgent, &e.Location, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, apperr.Unavailable("audit store unavailable", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("audit store unavailable", err)
	}
	return out, nil
}

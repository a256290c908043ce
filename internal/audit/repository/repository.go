package repository

import (
	"context"

	"authcore/internal/audit/domain"
)

// Repository defines append-only persistence for audit events.
type Repository interface {
	Append(ctx context.Context, e *domain.AuditEvent) error
	// ListByUser returns the newest events for userID first, at most limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error)
}

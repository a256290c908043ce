package repository

import (
	"context"
	"sync"

	"authcore/internal/audit/domain"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.AuditEvent
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(ctx context.Context, e *domain.AuditEvent) error {
	c := *e
	r.mu.Lock()
	r.events = append(r.events, &c)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.AuditEvent
	for i := len(r.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.events[i].UserID == userID {
			c := *r.events[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// Actions returns every recorded action for userID in append order. Intended for tests.
func (r *MemoryRepository) Actions(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, e := range r.events {
		if e.UserID == userID {
			out = append(out, e.Action)
		}
	}
	return out
}

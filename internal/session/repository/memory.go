package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"authcore/internal/session/domain"
)

// MemoryRepository is an in-process Repository for development and tests. A single mutex
// makes every operation, including Rotate, atomic.
type MemoryRepository struct {
	mu     sync.Mutex
	byHash map[string]*domain.RefreshSession
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byHash: make(map[string]*domain.RefreshSession)}
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.RefreshSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHash[s.TokenHash] = clone(s)
	return nil
}

func (r *MemoryRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.byHash[tokenHash]), nil
}

func (r *MemoryRepository) FindLive(ctx context.Context, tokenHash, userID string, now time.Time) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clone(r.live(tokenHash, userID, now)), nil
}

func (r *MemoryRepository) Rotate(ctx context.Context, parentHash, userID string, child *domain.RefreshSession, now time.Time) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.live(parentHash, userID, now)
	if p == nil {
		return nil, ErrSessionNotLive
	}
	revoke(p, domain.ReasonRotated, now)
	t := now
	p.LastUsedAt = &t
	child.RotatedFrom = parentHash
	r.byHash[child.TokenHash] = clone(child)
	return clone(p), nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, tokenHash, userID, reason string, now time.Time) (*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.live(tokenHash, userID, now)
	if s == nil {
		return nil, ErrSessionNotLive
	}
	revoke(s, reason, now)
	t := now
	s.LastUsedAt = &t
	return clone(s), nil
}

func (r *MemoryRepository) RevokeAllForUser(ctx context.Context, userID, reason string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.byHash {
		if s.UserID == userID && s.Valid && s.RevokedAt == nil {
			revoke(s, reason, now)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) RevokeLineage(ctx context.Context, tokenHash, reason string, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := make(map[string][]*domain.RefreshSession)
	for _, s := range r.byHash {
		if s.RotatedFrom != "" {
			children[s.RotatedFrom] = append(children[s.RotatedFrom], s)
		}
	}
	var n int64
	queue := []string{tokenHash}
	seen := map[string]bool{}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if seen[h] {
			continue
		}
		seen[h] = true
		if s, ok := r.byHash[h]; ok && s.Valid && s.RevokedAt == nil {
			revoke(s, reason, now)
			n++
		}
		for _, c := range children[h] {
			queue = append(queue, c.TokenHash)
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListLiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.RefreshSession
	for _, s := range r.byHash {
		if s.UserID == userID && s.IsLive(now) {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

// live returns the stored session when it is live for userID. Caller holds r.mu.
func (r *MemoryRepository) live(tokenHash, userID string, now time.Time) *domain.RefreshSession {
	s, ok := r.byHash[tokenHash]
	if !ok || s.UserID != userID || !s.IsLive(now) {
		return nil
	}
	return s
}

func revoke(s *domain.RefreshSession, reason string, now time.Time) {
	t := now
	s.Valid = false
	s.RevokedAt = &t
	s.RevokeReason = reason
}

func clone(s *domain.RefreshSession) *domain.RefreshSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	if s.LastUsedAt != nil {
		t := *s.LastUsedAt
		c.LastUsedAt = &t
	}
	return &c
}

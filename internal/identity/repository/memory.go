package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"authcore/internal/identity/domain"
)

// MemoryRepository is an in-process Repository for development and tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*domain.Identity
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Identity)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool { return strings.EqualFold(i.Email, email) }), nil
}

func (r *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool { return strings.EqualFold(i.Username, username) }), nil
}

func (r *MemoryRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.Identity, error) {
	return r.find(func(i *domain.Identity) bool {
		return strings.EqualFold(i.Email, identifier) || strings.EqualFold(i.Username, identifier)
	}), nil
}

func (r *MemoryRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	return r.find(func(i *domain.Identity) bool {
		return strings.EqualFold(i.Username, username) || strings.EqualFold(i.Email, email)
	}) != nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, i *domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.ID == i.ID || strings.EqualFold(existing.Username, i.Username) || strings.EqualFold(existing.Email, i.Email) {
			return ErrIdentityExists
		}
	}
	r.byID[i.ID] = clone(i)
	return nil
}

func (r *MemoryRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) (*domain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	i.PasswordHash = passwordHash
	i.UpdatedAt = time.Now().UTC()
	return clone(i), nil
}

// Put inserts or replaces i without uniqueness checks. Intended for tests that need to
// flip status flags.
func (r *MemoryRepository) Put(i *domain.Identity) {
	r.mu.Lock()
	r.byID[i.ID] = clone(i)
	r.mu.Unlock()
}

func (r *MemoryRepository) find(match func(*domain.Identity) bool) *domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, i := range r.byID {
		if match(i) {
			return clone(i)
		}
	}
	return nil
}

func clone(i *domain.Identity) *domain.Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

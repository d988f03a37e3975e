package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"bundlealert-miniapp/internal/features/accounts/models"
	"bundlealert-miniapp/internal/features/accounts/repository"
)

type accountRepository struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
	accounts map[int64]models.Account
	owners   map[string]int64
	pending  map[int64]models.Challenge
	now      func() time.Time
}

func NewRepository() repository.Repository {
	return &accountRepository{
		sessions: make(map[string]models.Session),
		accounts: make(map[int64]models.Account),
		owners:   make(map[string]int64),
		pending:  make(map[int64]models.Challenge),
		now:      time.Now,
	}
}

func (r *accountRepository) SaveSession(_ context.Context, s *models.Session, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	if ttl > 0 && cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = r.now().Add(ttl)
	}
	r.sessions[s.Token] = cp
	return nil
}

func (r *accountRepository) GetSession(_ context.Context, token string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	if !ok || (!s.ExpiresAt.IsZero() && r.now().After(s.ExpiresAt)) {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *accountRepository) GetAccount(_ context.Context, userID int64) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	a.Wallets = append([]models.VerifiedWallet(nil), a.Wallets...)
	return &a, nil
}

func (r *accountRepository) SaveAccount(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.UpdatedAt = r.now()
	cp := *a
	cp.Wallets = append([]models.VerifiedWallet(nil), a.Wallets...)
	r.accounts[a.UserID] = cp
	for _, w := range a.Wallets {
		r.owners[strings.ToLower(w.Address)] = a.UserID
	}
	return nil
}

func (r *accountRepository) OwnerOf(_ context.Context, address string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[strings.ToLower(address)]
	if !ok {
		return 0, repository.ErrNotFound
	}
	return id, nil
}

func (r *accountRepository) ReleaseAddress(_ context.Context, address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, strings.ToLower(address))
	return nil
}

func (r *accountRepository) SaveChallenge(_ context.Context, c *models.Challenge, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if ttl > 0 && cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = r.now().Add(ttl)
	}
	r.pending[c.UserID] = cp
	return nil
}

func (r *accountRepository) GetChallenge(_ context.Context, userID int64) (*models.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.pending[userID]
	if !ok || (!c.ExpiresAt.IsZero() && r.now().After(c.ExpiresAt)) {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

var _ repository.AccountStore = (*AccountStore)(nil)

type AccountStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	accounts map[string]*models.Account
	byEmail  map[string]string
}

func NewAccountStore(c clock.Clock) *AccountStore {
	return &AccountStore{
		clock:    c,
		accounts: make(map[string]*models.Account),
		byEmail:  make(map[string]string),
	}
}

func cloneAccount(a *models.Account) *models.Account {
	out := *a
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

func (s *AccountStore) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[account.EmailHash]; ok {
		return repository.ErrAlreadyExists
	}
	if _, ok := s.accounts[account.AccountID]; ok {
		return repository.ErrAlreadyExists
	}
	a := cloneAccount(account)
	a.Email = ""
	s.accounts[a.AccountID] = a
	s.byEmail[a.EmailHash] = a.AccountID
	return nil
}

func (s *AccountStore) GetAccountByID(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (s *AccountStore) GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[emailHash]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.GetAccountByID(ctx, id)
}

func (s *AccountStore) update(accountID string, fn func(a *models.Account)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return repository.ErrNotFound
	}
	fn(a)
	a.UpdatedAt = s.clock.Now()
	return nil
}

func (s *AccountStore) UpdatePassword(_ context.Context, accountID string, cred models.PasswordCredential) error {
	return s.update(accountID, func(a *models.Account) { a.Password = cred })
}

func (s *AccountStore) UpdateLastLogin(_ context.Context, accountID string, at time.Time) error {
	return s.update(accountID, func(a *models.Account) { a.LastLoginAt = &at })
}

func (s *AccountStore) SetActive(_ context.Context, accountID string, active bool) error {
	return s.update(accountID, func(a *models.Account) { a.IsActive = active })
}

func (s *AccountStore) SetVerified(_ context.Context, accountID string, verified bool) error {
	return s.update(accountID, func(a *models.Account) { a.IsVerified = verified })
}

func (s *AccountStore) ListAccounts(_ context.Context, limit int) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

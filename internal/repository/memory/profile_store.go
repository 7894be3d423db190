package memory

import (
	"context"
	"sync"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

var _ repository.ProfileStore = (*ProfileStore)(nil)

type ProfileStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	profiles map[string]*models.ElevatedProfile
}

func NewProfileStore(c clock.Clock) *ProfileStore {
	return &ProfileStore{clock: c, profiles: make(map[string]*models.ElevatedProfile)}
}

func profileKey(accountID string, role models.Role) string { return accountID + "/" + string(role) }

func cloneProfile(p *models.ElevatedProfile) *models.ElevatedProfile {
	out := *p
	if p.GrantExpiresAt != nil {
		t := *p.GrantExpiresAt
		out.GrantExpiresAt = &t
	}
	return &out
}

func (s *ProfileStore) CreateProfile(_ context.Context, profile *models.ElevatedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := profileKey(profile.AccountID, profile.Role)
	if _, ok := s.profiles[key]; ok {
		return repository.ErrAlreadyExists
	}
	p := cloneProfile(profile)
	now := s.clock.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.profiles[key] = p
	return nil
}

func (s *ProfileStore) GetProfile(_ context.Context, accountID string, role models.Role) (*models.ElevatedProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[profileKey(accountID, role)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneProfile(p), nil
}

func (s *ProfileStore) SetGrant(_ context.Context, accountID string, role models.Role, grant models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey(accountID, role)]
	if !ok {
		return repository.ErrNotFound
	}
	expires := grant.ExpiresAt
	p.GrantToken = grant.Token
	p.GrantExpiresAt = &expires
	p.UpdatedAt = s.clock.Now()
	return nil
}

func (s *ProfileStore) ClearGrant(_ context.Context, accountID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey(accountID, role)]
	if !ok {
		return repository.ErrNotFound
	}
	p.GrantToken = ""
	p.GrantExpiresAt = nil
	p.UpdatedAt = s.clock.Now()
	return nil
}

func (s *ProfileStore) ClearGrantIfMatch(_ context.Context, accountID string, role models.Role, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[profileKey(accountID, role)]
	if !ok {
		return false, repository.ErrNotFound
	}
	if p.GrantToken != token {
		return false, nil
	}
	p.GrantToken = ""
	p.GrantExpiresAt = nil
	p.UpdatedAt = s.clock.Now()
	return true, nil
}

func (s *ProfileStore) DeleteProfile(_ context.Context, accountID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profileKey(accountID, role))
	return nil
}

// Put stores p as-is, bypassing the grant invariants. Tests use it to plant
// corrupt or mismatched rows.
func (s *ProfileStore) Put(p *models.ElevatedProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profileKey(p.AccountID, p.Role)] = cloneProfile(p)
}

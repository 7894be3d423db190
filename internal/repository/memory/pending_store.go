// Package memory provides process-local stores used by tests and by
// development instances that run without Redis or ScyllaDB.
package memory

import (
	"context"
	"sync"
	"time"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

var _ repository.PendingAccessStore = (*PendingStore)(nil)

type pendingEntry struct {
	req       models.PendingRequest
	expiresAt time.Time
}

type ownerEntry struct {
	code      string
	expiresAt time.Time
}

// PendingStore mirrors the Redis pending-access layout: entries keyed by role
// and code plus an owner index keyed by role and account.
type PendingStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]pendingEntry
	owners  map[string]ownerEntry
}

func NewPendingStore(c clock.Clock) *PendingStore {
	return &PendingStore{
		clock:   c,
		entries: make(map[string]pendingEntry),
		owners:  make(map[string]ownerEntry),
	}
}

func pendingKey(role models.Role, code string) string { return string(role) + ":" + code }

func ownerKey(role models.Role, accountID string) string { return string(role) + ":" + accountID }

// live returns the unexpired entry under key, evicting it when stale. Callers hold mu.
func (s *PendingStore) live(key string) (pendingEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return pendingEntry{}, false
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return pendingEntry{}, false
	}
	return e, true
}

// liveOwner returns the account's current code, evicting a stale index entry. Callers hold mu.
func (s *PendingStore) liveOwner(key string) (string, bool) {
	o, ok := s.owners[key]
	if !ok {
		return "", false
	}
	if !s.clock.Now().Before(o.expiresAt) {
		delete(s.owners, key)
		return "", false
	}
	return o.code, true
}

func (s *PendingStore) Issue(_ context.Context, req *models.PendingRequest, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey(req.Role, req.Code)
	if _, ok := s.live(key); ok {
		return repository.ErrCodeCollision
	}

	// The previous code may have expired and been reissued to someone else.
	owner := ownerKey(req.Role, req.AccountID)
	if prev, ok := s.liveOwner(owner); ok {
		prevKey := pendingKey(req.Role, prev)
		if e, ok := s.live(prevKey); ok && e.req.AccountID == req.AccountID {
			delete(s.entries, prevKey)
		}
	}

	expiresAt := s.clock.Now().Add(ttl)
	s.entries[key] = pendingEntry{req: *req, expiresAt: expiresAt}
	s.owners[owner] = ownerEntry{code: req.Code, expiresAt: expiresAt}
	return nil
}

func (s *PendingStore) Consume(_ context.Context, role models.Role, code, accountID string) (*models.PendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey(role, code)
	e, ok := s.live(key)
	if !ok || e.req.AccountID != accountID {
		return nil, repository.ErrNotFound
	}
	s.remove(role, code, accountID)
	req := e.req
	return &req, nil
}

func (s *PendingStore) Discard(_ context.Context, role models.Role, code, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[pendingKey(role, code)]; ok && e.req.AccountID == accountID {
		s.remove(role, code, accountID)
	}
	return nil
}

func (s *PendingStore) remove(role models.Role, code, accountID string) {
	delete(s.entries, pendingKey(role, code))
	owner := ownerKey(role, accountID)
	if s.owners[owner].code == code {
		delete(s.owners, owner)
	}
}

// Len counts live entries and sweeps stale owner index entries.
func (s *PendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if _, ok := s.live(key); ok {
			n++
		}
	}
	for key := range s.owners {
		s.liveOwner(key)
	}
	return n
}

// owned counts owner index entries, stale or not.
func (s *PendingStore) owned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owners)
}

package memory

import (
	"context"
	"sync"

	"storefront-api/internal/clock"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

var _ repository.SessionStore = (*SessionStore)(nil)

type SessionStore struct {
	mu        sync.Mutex
	clock     clock.Clock
	sessions  map[string]models.Session
	byAccount map[string]map[string]struct{}
}

func NewSessionStore(c clock.Clock) *SessionStore {
	return &SessionStore{
		clock:     c,
		sessions:  make(map[string]models.Session),
		byAccount: make(map[string]map[string]struct{}),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.SessionID] = *session
	set, ok := s.byAccount[session.AccountID]
	if !ok {
		set = make(map[string]struct{})
		s.byAccount[session.AccountID] = set
	}
	set[session.SessionID] = struct{}{}
	return nil
}

func (s *SessionStore) IsSessionActive(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if !s.clock.Now().Before(sess.ExpiresAt) {
		delete(s.sessions, sessionID)
		return false, nil
	}
	return true, nil
}

func (s *SessionStore) RevokeSession(_ context.Context, accountID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	delete(s.byAccount[accountID], sessionID)
	return nil
}

func (s *SessionStore) RevokeAllSessions(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.byAccount[accountID] {
		delete(s.sessions, id)
	}
	delete(s.byAccount, accountID)
	return nil
}

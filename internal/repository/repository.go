// Package repository declares the storage contracts shared by the Redis,
// Scylla and in-memory backends.
package repository

import (
	"context"
	"errors"
	"time"

	"storefront-api/internal/models"
)

var (
	// ErrNotFound is returned when a record is absent, expired, or not owned by the caller.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a uniqueness constraint is violated.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrCodeCollision is returned when a freshly generated code is already live.
	ErrCodeCollision = errors.New("pending access code already in use")
)

// PendingAccessStore holds one-time codes with a native TTL.
type PendingAccessStore interface {
	// Issue stores req under its role and code for ttl and drops any earlier
	// pending code of the same account and role, in one atomic step.
	Issue(ctx context.Context, req *models.PendingRequest, ttl time.Duration) error
	// Consume deletes and returns the pending request only when it exists and
	// belongs to accountID. Anything else yields ErrNotFound and leaves the store untouched.
	Consume(ctx context.Context, role models.Role, code, accountID string) (*models.PendingRequest, error)
	// Discard removes a pending request owned by accountID; a missing entry is not an error.
	Discard(ctx context.Context, role models.Role, code, accountID string) error
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *models.ElevatedProfile) error
	GetProfile(ctx context.Context, accountID string, role models.Role) (*models.ElevatedProfile, error)
	// SetGrant writes token and expiry together on an existing profile.
	SetGrant(ctx context.Context, accountID string, role models.Role, grant models.Grant) error
	// ClearGrant unsets token and expiry together.
	ClearGrant(ctx context.Context, accountID string, role models.Role) error
	// ClearGrantIfMatch clears the grant only while it still carries token and
	// reports whether it did.
	ClearGrantIfMatch(ctx context.Context, accountID string, role models.Role, token string) (bool, error)
	DeleteProfile(ctx context.Context, accountID string, role models.Role) error
}

type AccountStore interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error)
	UpdatePassword(ctx context.Context, accountID string, cred models.PasswordCredential) error
	UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error
	SetActive(ctx context.Context, accountID string, active bool) error
	SetVerified(ctx context.Context, accountID string, verified bool) error
	ListAccounts(ctx context.Context, limit int) ([]*models.Account, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	IsSessionActive(ctx context.Context, sessionID string) (bool, error)
	RevokeSession(ctx context.Context, accountID, sessionID string) error
	RevokeAllSessions(ctx context.Context, accountID string) error
}

// AttemptCounter keeps windowed counters for throttling.
type AttemptCounter interface {
	// Increment bumps key and returns the new count; the window starts at the first hit.
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Count(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"storefront-api/internal/models"
	"storefront-api/internal/repository"
)

// Every write to elevated_profiles is a lightweight transaction so the grant
// pair is never interleaved with a concurrent write.
const (
	insertProfileCQL = `INSERT INTO elevated_profiles (account_id, role, created_at, updated_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`

	selectProfileCQL = `SELECT account_id, role, grant_token, grant_expires_at, created_at, updated_at
        FROM elevated_profiles WHERE account_id = ? AND role = ?`

	setGrantCQL = `UPDATE elevated_profiles SET grant_token = ?, grant_expires_at = ?, updated_at = ?
        WHERE account_id = ? AND role = ? IF EXISTS`

	clearGrantCQL = `UPDATE elevated_profiles SET grant_token = null, grant_expires_at = null, updated_at = ?
        WHERE account_id = ? AND role = ? IF EXISTS`

	clearGrantIfMatchCQL = `UPDATE elevated_profiles SET grant_token = null, grant_expires_at = null, updated_at = ?
        WHERE account_id = ? AND role = ? IF grant_token = ?`

	deleteProfileCQL = `DELETE FROM elevated_profiles WHERE account_id = ? AND role = ? IF EXISTS`
)

type ProfileRepository struct {
	client *ScyllaClient
}

var _ repository.ProfileStore = (*ProfileRepository)(nil)

func NewProfileRepository(client *ScyllaClient) *ProfileRepository {
	return &ProfileRepository{client: client}
}

func (r *ProfileRepository) CreateProfile(ctx context.Context, p *models.ElevatedProfile) error {
	applied, err := r.client.Query(ctx, insertProfileCQL,
		p.AccountID, string(p.Role), p.CreatedAt, p.UpdatedAt).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	if !applied {
		return repository.ErrAlreadyExists
	}
	return nil
}

func (r *ProfileRepository) GetProfile(ctx context.Context, accountID string, role models.Role) (*models.ElevatedProfile, error) {
	var (
		p         models.ElevatedProfile
		roleName  string
		expiresAt time.Time
	)
	q := r.client.Query(ctx, selectProfileCQL, accountID, string(role))
	err := r.client.ScanWithRetry(q, &p.AccountID, &roleName, &p.GrantToken, &expiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	p.Role = models.Role(roleName)
	if !expiresAt.IsZero() {
		p.GrantExpiresAt = &expiresAt
	}
	return &p, nil
}

func (r *ProfileRepository) SetGrant(ctx context.Context, accountID string, role models.Role, grant models.Grant) error {
	return r.mustApply(ctx, setGrantCQL,
		grant.Token, grant.ExpiresAt, time.Now().UTC(), accountID, string(role))
}

func (r *ProfileRepository) ClearGrant(ctx context.Context, accountID string, role models.Role) error {
	return r.mustApply(ctx, clearGrantCQL, time.Now().UTC(), accountID, string(role))
}

func (r *ProfileRepository) ClearGrantIfMatch(ctx context.Context, accountID string, role models.Role, token string) (bool, error) {
	applied, err := r.client.Query(ctx, clearGrantIfMatchCQL,
		time.Now().UTC(), accountID, string(role), token).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("failed to clear grant: %w", err)
	}
	return applied, nil
}

func (r *ProfileRepository) DeleteProfile(ctx context.Context, accountID string, role models.Role) error {
	return r.mustApply(ctx, deleteProfileCQL, accountID, string(role))
}

func (r *ProfileRepository) mustApply(ctx context.Context, stmt string, values ...any) error {
	applied, err := r.client.Query(ctx, stmt, values...).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

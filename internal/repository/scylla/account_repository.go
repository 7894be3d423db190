package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"storefront-api/internal/bucketing"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
	"storefront-api/internal/util"
)

const accountColumns = `account_bucket, account_id, email_hash, email_encrypted, email_dek, email_key_id,
        first_name, last_name, role, is_active, is_verified,
        password_hash, password_salt, pepper_version, hash_algorithm, password_changed_at,
        created_at, updated_at, last_login_at`

const (
	insertEmailLookupCQL = `INSERT INTO email_to_account (email_hash, account_bucket, account_id, created_at)
        VALUES (?, ?, ?, ?) IF NOT EXISTS`

	deleteEmailLookupCQL = `DELETE FROM email_to_account WHERE email_hash = ? IF account_id = ?`
	selectEmailLookupCQL = `SELECT account_id FROM email_to_account WHERE email_hash = ?`

	insertAccountCQL = `INSERT INTO accounts (` + accountColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectAccountCQL = `SELECT ` + accountColumns + ` FROM accounts WHERE account_bucket = ? AND account_id = ?`
	listAccountsCQL  = `SELECT ` + accountColumns + ` FROM accounts LIMIT ?`

	updatePasswordCQL = `UPDATE accounts SET password_hash = ?, password_salt = ?, pepper_version = ?,
        hash_algorithm = ?, password_changed_at = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ? IF EXISTS`

	updateLastLoginCQL = `UPDATE accounts SET last_login_at = ? WHERE account_bucket = ? AND account_id = ? IF EXISTS`
	updateActiveCQL    = `UPDATE accounts SET is_active = ?, updated_at = ? WHERE account_bucket = ? AND account_id = ? IF EXISTS`
	updateVerifiedCQL  = `UPDATE accounts SET is_verified = ?, updated_at = ? WHERE account_bucket = ? AND account_id = ? IF EXISTS`
)

// AccountRepository stores accounts partitioned by a murmur3 bucket of the
// account id, with a lookup table that enforces email uniqueness.
type AccountRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

var _ repository.AccountStore = (*AccountRepository)(nil)

func NewAccountRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *AccountRepository {
	return &AccountRepository{client: client, bucketing: bm}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, a *models.Account) error {
	a.AccountBucket = r.bucketing.GetAccountBucket(a.AccountID)

	applied, err := r.client.Query(ctx, insertEmailLookupCQL,
		a.EmailHash, a.AccountBucket, a.AccountID, a.CreatedAt).
		MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to reserve email: %w", err)
	}
	if !applied {
		return repository.ErrAlreadyExists
	}

	err = r.client.Query(ctx, insertAccountCQL,
		a.AccountBucket, a.AccountID, a.EmailHash, a.EmailEncrypted, a.EmailDEK, a.EmailKeyID,
		a.FirstName, a.LastName, string(a.Role), a.IsActive, a.IsVerified,
		a.Password.Hash, a.Password.Salt, a.Password.PepperVersion, a.Password.Algorithm, a.Password.ChangedAt,
		a.CreatedAt, a.UpdatedAt, a.LastLoginAt).Exec()
	if err != nil {
		// Release the email so the caller can retry. The row was written
		// with LWT, so the release goes through Paxos too.
		if _, delErr := r.client.Query(ctx, deleteEmailLookupCQL, a.EmailHash, a.AccountID).
			MapScanCAS(map[string]any{}); delErr != nil {
			util.Error("failed to release email reservation",
				zap.String("account_id", a.AccountID), zap.Error(delErr))
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	bucket := r.bucketing.GetAccountBucket(accountID)
	return r.scanAccount(r.client.Query(ctx, selectAccountCQL, bucket, accountID))
}

func (r *AccountRepository) GetAccountByEmailHash(ctx context.Context, emailHash string) (*models.Account, error) {
	var accountID string
	err := r.client.ScanWithRetry(r.client.Query(ctx, selectEmailLookupCQL, emailHash), &accountID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up email: %w", err)
	}
	return r.GetAccountByID(ctx, accountID)
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, accountID string, cred models.PasswordCredential) error {
	return r.applyUpdate(ctx, updatePasswordCQL,
		cred.Hash, cred.Salt, cred.PepperVersion, cred.Algorithm, cred.ChangedAt, cred.ChangedAt,
		r.bucketing.GetAccountBucket(accountID), accountID)
}

func (r *AccountRepository) UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return r.applyUpdate(ctx, updateLastLoginCQL, at, r.bucketing.GetAccountBucket(accountID), accountID)
}

func (r *AccountRepository) SetActive(ctx context.Context, accountID string, active bool) error {
	return r.applyUpdate(ctx, updateActiveCQL, active, time.Now().UTC(), r.bucketing.GetAccountBucket(accountID), accountID)
}

func (r *AccountRepository) SetVerified(ctx context.Context, accountID string, verified bool) error {
	return r.applyUpdate(ctx, updateVerifiedCQL, verified, time.Now().UTC(), r.bucketing.GetAccountBucket(accountID), accountID)
}

func (r *AccountRepository) ListAccounts(ctx context.Context, limit int) ([]*models.Account, error) {
	iter := r.client.Query(ctx, listAccountsCQL, limit).Iter()
	scanner := iter.Scanner()

	var accounts []*models.Account
	for scanner.Next() {
		a, err := scanAccountRow(scanner.Scan)
		if err != nil {
			_ = iter.Close()
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

func (r *AccountRepository) applyUpdate(ctx context.Context, stmt string, values ...any) error {
	applied, err := r.client.Query(ctx, stmt, values...).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if !applied {
		return repository.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) scanAccount(q *gocql.Query) (*models.Account, error) {
	a, err := scanAccountRow(func(dest ...any) error {
		return r.client.ScanWithRetry(q, dest...)
	})
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

func scanAccountRow(scan func(dest ...any) error) (*models.Account, error) {
	var (
		a         models.Account
		role      string
		lastLogin time.Time
	)
	err := scan(
		&a.AccountBucket, &a.AccountID, &a.EmailHash, &a.EmailEncrypted, &a.EmailDEK, &a.EmailKeyID,
		&a.FirstName, &a.LastName, &role, &a.IsActive, &a.IsVerified,
		&a.Password.Hash, &a.Password.Salt, &a.Password.PepperVersion, &a.Password.Algorithm, &a.Password.ChangedAt,
		&a.CreatedAt, &a.UpdatedAt, &lastLogin,
	)
	if err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	if !lastLogin.IsZero() {
		a.LastLoginAt = &lastLogin
	}
	return &a, nil
}

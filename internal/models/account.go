package models

import "time"

type Account struct {
	AccountBucket  int                `db:"account_bucket" json:"-"`
	AccountID      string             `db:"account_id" json:"id"`
	EmailHash      string             `db:"email_hash" json:"-"`
	EmailEncrypted string             `db:"email_encrypted" json:"-"`
	EmailDEK       string             `db:"email_dek" json:"-"`
	EmailKeyID     string             `db:"email_key_id" json:"-"`
	Email          string             `db:"-" json:"email,omitempty"`
	FirstName      string             `db:"first_name" json:"firstName"`
	LastName       string             `db:"last_name" json:"lastName"`
	Role           Role               `db:"role" json:"role"`
	IsActive       bool               `db:"is_active" json:"isActive"`
	IsVerified     bool               `db:"is_verified" json:"isVerified"`
	Password       PasswordCredential `db:"-" json:"-"`
	CreatedAt      time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time          `db:"updated_at" json:"updatedAt"`
	LastLoginAt    *time.Time         `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

type PasswordCredential struct {
	Hash          string    `db:"password_hash"`
	Salt          string    `db:"password_salt"`
	PepperVersion int       `db:"pepper_version"`
	Algorithm     string    `db:"hash_algorithm"`
	ChangedAt     time.Time `db:"password_changed_at"`
}

// Identity is the authenticated caller as seen by the access guard.
type Identity struct {
	AccountID string `json:"accountId"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
	Verified  bool   `json:"verified"`
	SessionID string `json:"-"`
}

func (a *Account) Identity(sessionID string) Identity {
	return Identity{
		AccountID: a.AccountID,
		Role:      a.Role,
		Active:    a.IsActive,
		Verified:  a.IsVerified,
		SessionID: sessionID,
	}
}

package models

import "time"

// ElevatedProfile exists once per account whose role is elevated. GrantToken
// holds the SHA-256 digest of the issued grant secret; it and GrantExpiresAt
// are written and cleared together.
type ElevatedProfile struct {
	AccountID      string     `db:"account_id" json:"accountId"`
	Role           Role       `db:"role" json:"role"`
	GrantToken     string     `db:"grant_token" json:"-"`
	GrantExpiresAt *time.Time `db:"grant_expires_at" json:"grantExpiresAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// Grant is the pair persisted on successful verification.
type Grant struct {
	Token     string
	ExpiresAt time.Time
}

func (p *ElevatedProfile) HasGrant() bool {
	return p.GrantToken != "" && p.GrantExpiresAt != nil
}

// HalfState reports a profile with only one of the two grant fields set.
func (p *ElevatedProfile) HalfState() bool {
	return (p.GrantToken == "") != (p.GrantExpiresAt == nil)
}

// GrantValidAt reports whether a complete grant exists and expires strictly after now.
func (p *ElevatedProfile) GrantValidAt(now time.Time) bool {
	return p.HasGrant() && p.GrantExpiresAt.After(now)
}

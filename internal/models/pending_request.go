package models

import "time"

// PendingRequest is the ephemeral record behind an issued one-time code.
type PendingRequest struct {
	AccountID string    `json:"account_id"`
	Role      Role      `json:"role"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

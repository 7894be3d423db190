package models

import "time"

type Session struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Role      Role      `json:"role"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

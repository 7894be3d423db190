package models

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type AccessEventType string

const (
	EventAccessRequested     AccessEventType = "access_requested"
	EventAccessRequestFailed AccessEventType = "access_request_failed"
	EventAccessGranted       AccessEventType = "access_granted"
	EventAccessVerifyFailed  AccessEventType = "access_verify_failed"
	EventAccessRevoked       AccessEventType = "access_revoked"
	EventAccessExpired       AccessEventType = "access_expired"
	EventAccessDenied        AccessEventType = "access_denied"
)

// AccessEvent is one audit record of the elevated access lifecycle.
type AccessEvent struct {
	EventID     string          `json:"event_id" ch:"event_id"`
	EventBucket int             `json:"event_bucket" ch:"event_bucket"`
	EventDate   string          `json:"event_date" ch:"event_date"`
	AccountID   string          `json:"account_id" ch:"account_id"`
	Role        Role            `json:"role" ch:"role"`
	Type        AccessEventType `json:"event_type" ch:"event_type"`
	Reason      string          `json:"reason,omitempty" ch:"reason"`
	SessionID   string          `json:"session_id,omitempty" ch:"session_id"`
	OccurredAt  time.Time       `json:"occurred_at" ch:"occurred_at"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewEventID returns a lexicographically sortable id stamped with t.
func NewEventID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

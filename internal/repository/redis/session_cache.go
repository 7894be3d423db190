package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront-api/internal/client"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
	"storefront-api/internal/util"
)

var _ repository.SessionStore = (*SessionCache)(nil)

const (
	sessionDataPrefix  = "session_data:"
	userSessionsPrefix = "user_sessions:"
)

// SessionCache tracks live login sessions so bearer tokens can be revoked
// before they expire.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(c *client.RedisClient) *SessionCache {
	return &SessionCache{client: c}
}

func (c *SessionCache) CreateSession(ctx context.Context, session *models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", session.SessionID)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, sessionDataPrefix+session.SessionID, data, ttl)
	userSessionsKey := userSessionsPrefix + session.AccountID
	pipe.SAdd(ctx, userSessionsKey, session.SessionID)
	pipe.Expire(ctx, userSessionsKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to create session",
			zap.String("account_id", session.AccountID),
			zap.String("session_id", session.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (c *SessionCache) IsSessionActive(ctx context.Context, sessionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ok, err := c.client.Exists(ctx, sessionDataPrefix+sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return ok, nil
}

func (c *SessionCache) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pipe := c.client.Pipeline()
	pipe.Del(ctx, sessionDataPrefix+sessionID)
	pipe.SRem(ctx, userSessionsPrefix+accountID, sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to revoke session",
			zap.String("account_id", accountID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	util.Info("Session revoked", zap.String("account_id", accountID), zap.String("session_id", sessionID))
	return nil
}

func (c *SessionCache) RevokeAllSessions(ctx context.Context, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	userSessionsKey := userSessionsPrefix + accountID
	sessions, err := c.client.SMembers(ctx, userSessionsKey)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	keys := make([]string, 0, len(sessions)+1)
	for _, id := range sessions {
		keys = append(keys, sessionDataPrefix+id)
	}
	keys = append(keys, userSessionsKey)

	if err := c.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to revoke all sessions",
			zap.String("account_id", accountID),
			zap.Int("session_count", len(sessions)),
			zap.Error(err))
		return fmt.Errorf("failed to revoke all sessions: %w", err)
	}

	util.Info("All sessions revoked",
		zap.String("account_id", accountID),
		zap.Int("session_count", len(sessions)))
	return nil
}

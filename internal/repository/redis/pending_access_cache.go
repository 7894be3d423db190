package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storefront-api/internal/client"
	"storefront-api/internal/models"
	"storefront-api/internal/repository"
	"storefront-api/internal/util"
)

var _ repository.PendingAccessStore = (*PendingAccessCache)(nil)

// Keys carry the role as a hash tag so every key a script touches for one
// role lands in the same cluster slot.
const (
	pendingPrefix      = "pending:"
	pendingOwnerPrefix = "pending_owner:"
)

// issueScript refuses a live code, drops the account's previous code when it
// still belongs to the account, then writes entry and owner index.
//
// KEYS: pending key, owner key. ARGV: payload, ttl ms, role key prefix, code, account id.
var issueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local prev = redis.call('GET', KEYS[2])
if prev then
  local old = redis.call('GET', ARGV[3] .. prev)
  if old then
    local ok, decoded = pcall(cjson.decode, old)
    if ok and decoded['account_id'] == ARGV[5] then
      redis.call('DEL', ARGV[3] .. prev)
    end
  end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('SET', KEYS[2], ARGV[4], 'PX', ARGV[2])
return 1
`)

// consumeScript deletes and returns the entry only for its owner. A foreign
// caller gets nil and the entry survives.
//
// KEYS: pending key, owner key. ARGV: account id, code.
var consumeScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return false
end
local ok, decoded = pcall(cjson.decode, v)
if not ok or decoded['account_id'] ~= ARGV[1] then
  return false
end
redis.call('DEL', KEYS[1])
if redis.call('GET', KEYS[2]) == ARGV[2] then
  redis.call('DEL', KEYS[2])
end
return v
`)

type PendingAccessCache struct {
	client *client.RedisClient
}

func NewPendingAccessCache(c *client.RedisClient) *PendingAccessCache {
	return &PendingAccessCache{client: c}
}

func rolePrefix(role models.Role) string {
	return pendingPrefix + "{" + string(role) + "}:"
}

// PendingKey renders pending:{role}:{code}.
func PendingKey(role models.Role, code string) string {
	return rolePrefix(role) + code
}

func ownerKey(role models.Role, accountID string) string {
	return pendingOwnerPrefix + "{" + string(role) + "}:" + accountID
}

func (c *PendingAccessCache) Issue(ctx context.Context, req *models.PendingRequest, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal pending request: %w", err)
	}

	keys := []string{PendingKey(req.Role, req.Code), ownerKey(req.Role, req.AccountID)}
	stored, err := c.client.RunScript(ctx, issueScript, keys,
		string(payload), ttl.Milliseconds(), rolePrefix(req.Role), req.Code, req.AccountID).Int()
	if err != nil {
		util.Error("Failed to store pending access request",
			zap.String("account_id", req.AccountID),
			zap.String("role", req.Role.String()),
			zap.Error(err))
		return fmt.Errorf("failed to store pending access request: %w", err)
	}
	if stored == 0 {
		return repository.ErrCodeCollision
	}

	util.Debug("Pending access request stored",
		zap.String("account_id", req.AccountID),
		zap.String("role", req.Role.String()),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *PendingAccessCache) Consume(ctx context.Context, role models.Role, code, accountID string) (*models.PendingRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	keys := []string{PendingKey(role, code), ownerKey(role, accountID)}
	raw, err := c.client.RunScript(ctx, consumeScript, keys, accountID, code).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, repository.ErrNotFound
		}
		util.Error("Failed to consume pending access request",
			zap.String("account_id", accountID),
			zap.String("role", role.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to consume pending access request: %w", err)
	}

	var req models.PendingRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("failed to decode pending access request: %w", err)
	}
	return &req, nil
}

func (c *PendingAccessCache) Discard(ctx context.Context, role models.Role, code, accountID string) error {
	if _, err := c.Consume(ctx, role, code, accountID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

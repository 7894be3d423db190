package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("HASH_PEPPERS", "")

	cfg := LoadConfig()

	require.Equal(t, 30*time.Minute, cfg.ElevatedAccess.Admin.PendingTTL)
	require.Equal(t, 12*time.Hour, cfg.ElevatedAccess.Admin.GrantDuration)
	require.Equal(t, 720*time.Hour, cfg.ElevatedAccess.Partner.GrantDuration)
	require.Equal(t, 6, cfg.ElevatedAccess.CodeLength)
	require.NotEmpty(t, cfg.Auth.JWTSecret)
	require.NotEmpty(t, cfg.Hashing.Peppers)
	require.NoError(t, cfg.Validate())
	require.Same(t, cfg, Get())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("ADMIN_ACCESS_GRANT_DURATION", "1h")
	t.Setenv("PARTNER_ACCESS_PENDING_TTL", "10m")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("HASH_PEPPERS", "1:old,2:new,bogus,x:y")

	cfg := LoadConfig()

	require.Equal(t, time.Hour, cfg.ElevatedAccess.Admin.GrantDuration)
	require.Equal(t, 10*time.Minute, cfg.ElevatedAccess.Partner.PendingTTL)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, map[int]string{1: "old", 2: "new"}, cfg.Hashing.Peppers)
}

func TestValidate_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("HASH_PEPPERS", "")
	t.Setenv("MAIL_DRIVER", "log")

	cfg := LoadConfig()
	err := cfg.Validate()

	require.Error(t, err)
	require.Contains(t, err.Error(), "JWT_SECRET must be at least 32 bytes")
	require.Contains(t, err.Error(), "HASH_PEPPERS is required")
	require.Contains(t, err.Error(), "MAIL_DRIVER=log")
}

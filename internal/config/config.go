package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment    string
	Server         ServerConfig
	Logging        LoggingConfig
	Redis          RedisConfig
	Scylla         ScyllaConfig
	Kafka          KafkaConfig
	Elasticsearch  ElasticsearchConfig
	Clickhouse     ClickhouseConfig
	KMS            KMSConfig
	Hashing        HashingConfig
	Bucketing      BucketingConfig
	Auth           AuthConfig
	ElevatedAccess ElevatedAccessConfig
	Mail           MailConfig
	RateLimit      RateLimitConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
	// Migrate creates the keyspace tables on startup when they are missing.
	Migrate bool
}

type KafkaConfig struct {
	Brokers           []string
	NotificationTopic string
	AuditTopic        string
	MailerGroupID     string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// Peppers maps a pepper version to its secret; the highest version hashes new values.
	Peppers map[int]string
}

type BucketingConfig struct {
	AccountBuckets int
	EventBuckets   int
}

type AuthConfig struct {
	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration
}

// RolePolicyConfig holds the two lifetimes of the elevated access workflow for one role.
type RolePolicyConfig struct {
	PendingTTL    time.Duration
	GrantDuration time.Duration
}

type ElevatedAccessConfig struct {
	Admin             RolePolicyConfig
	Partner           RolePolicyConfig
	CodeLength        int
	RequestLimit      int
	RequestWindow     time.Duration
	VerifyMaxFailures int
	VerifyLockout     time.Duration
}

type MailConfig struct {
	// Driver selects how access codes leave the process: smtp, kafka or log.
	Driver   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

var (
	current *Config
	mu      sync.RWMutex
)

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTOCERT", false),
			Domain:       GetEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  GetEnv("SERVER_AUTOCERT_DIR", "./certs"),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			CORSOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://localhost:6379/0"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "storefront"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
			Migrate:  getEnvBool("SCYLLA_MIGRATE", true),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			NotificationTopic: GetEnv("KAFKA_NOTIFICATION_TOPIC", "notifications.access-code"),
			AuditTopic:        GetEnv("KAFKA_AUDIT_TOPIC", "audit.elevated-access"),
			MailerGroupID:     GetEnv("KAFKA_MAILER_GROUP", "storefront-mailer"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        GetEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   GetEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   GetEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: GetEnv("ELASTICSEARCH_AUDIT_INDEX", "elevated-access-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
			Database: GetEnv("CLICKHOUSE_DATABASE", "storefront"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   GetEnv("KMS_KEY_ID", ""),
			Region:  GetEnv("AWS_REGION", "us-east-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			Peppers:           parsePeppers(GetEnv("HASH_PEPPERS", "")),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 256),
			EventBuckets:   getEnvInt("EVENT_BUCKETS", 64),
		},
		Auth: AuthConfig{
			JWTSecret:  GetEnv("JWT_SECRET", ""),
			JWTIssuer:  GetEnv("JWT_ISSUER", "storefront-api"),
			SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		ElevatedAccess: ElevatedAccessConfig{
			Admin: RolePolicyConfig{
				PendingTTL:    getEnvDuration("ADMIN_ACCESS_PENDING_TTL", 30*time.Minute),
				GrantDuration: getEnvDuration("ADMIN_ACCESS_GRANT_DURATION", 12*time.Hour),
			},
			Partner: RolePolicyConfig{
				PendingTTL:    getEnvDuration("PARTNER_ACCESS_PENDING_TTL", 30*time.Minute),
				GrantDuration: getEnvDuration("PARTNER_ACCESS_GRANT_DURATION", 30*24*time.Hour),
			},
			CodeLength:        getEnvInt("ACCESS_CODE_LENGTH", 6),
			RequestLimit:      getEnvInt("ACCESS_REQUEST_LIMIT", 5),
			RequestWindow:     getEnvDuration("ACCESS_REQUEST_WINDOW", 15*time.Minute),
			VerifyMaxFailures: getEnvInt("ACCESS_VERIFY_MAX_FAILURES", 5),
			VerifyLockout:     getEnvDuration("ACCESS_VERIFY_LOCKOUT", 15*time.Minute),
		},
		Mail: MailConfig{
			Driver:   GetEnv("MAIL_DRIVER", "log"),
			Host:     GetEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: GetEnv("SMTP_USERNAME", ""),
			Password: GetEnv("SMTP_PASSWORD", ""),
			From:     GetEnv("MAIL_FROM", "no-reply@storefront.local"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 40),
		},
	}

	if !cfg.IsProduction() {
		if cfg.Auth.JWTSecret == "" {
			cfg.Auth.JWTSecret = "development-only-jwt-secret"
		}
		if len(cfg.Hashing.Peppers) == 0 {
			cfg.Hashing.Peppers = map[int]string{1: "development-only-pepper"}
		}
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg
}

// Get returns the most recently loaded configuration, loading it on first use.
func Get() *Config {
	mu.RLock()
	cfg := current
	mu.RUnlock()
	if cfg == nil {
		return LoadConfig()
	}
	return cfg
}

// Validate reports settings that would make the service unsafe to start.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if len(c.Hashing.Peppers) == 0 {
		errs = append(errs, errors.New("HASH_PEPPERS is required"))
	}
	if c.KMS.Enabled && c.KMS.KeyID == "" {
		errs = append(errs, errors.New("KMS_KEY_ID is required when KMS is enabled"))
	}
	if c.ElevatedAccess.CodeLength < 6 || c.ElevatedAccess.CodeLength > 10 {
		errs = append(errs, fmt.Errorf("ACCESS_CODE_LENGTH must be between 6 and 10, got %d", c.ElevatedAccess.CodeLength))
	}
	for name, p := range map[string]RolePolicyConfig{"admin": c.ElevatedAccess.Admin, "partner": c.ElevatedAccess.Partner} {
		if p.PendingTTL <= 0 || p.GrantDuration <= 0 {
			errs = append(errs, fmt.Errorf("%s access lifetimes must be positive", name))
		}
	}
	switch c.Mail.Driver {
	case "smtp", "kafka", "log":
	default:
		errs = append(errs, fmt.Errorf("unknown MAIL_DRIVER %q", c.Mail.Driver))
	}
	if c.IsProduction() && c.Mail.Driver == "log" {
		errs = append(errs, errors.New("MAIL_DRIVER=log is not allowed in production"))
	}
	if c.Bucketing.AccountBuckets <= 0 || c.Bucketing.EventBuckets <= 0 {
		errs = append(errs, errors.New("bucket counts must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// GetEnv returns the environment value for key or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(GetEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(GetEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(GetEnv(key, "")); err == nil {
		return v
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := GetEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePeppers reads "1:secretA,2:secretB".
func parsePeppers(raw string) map[int]string {
	peppers := make(map[int]string)
	for _, entry := range strings.Split(raw, ",") {
		version, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok || secret == "" {
			continue
		}
		v, err := strconv.Atoi(version)
		if err != nil || v <= 0 {
			continue
		}
		peppers[v] = secret
	}
	return peppers
}

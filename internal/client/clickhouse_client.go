package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"storefront-api/internal/config"
	"storefront-api/internal/util"
)

type ClickHouseClient struct {
	conn driver.Conn
}

// NewClickHouseClient opens a native-protocol connection; https URLs and
// production deployments use TLS.
func NewClickHouseClient(cfg *config.Config) (*ClickHouseClient, error) {
	opts, err := clickhouseOptions(cfg.Clickhouse, cfg.IsProduction())
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	util.Info("clickhouse client initialized",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Clickhouse.Database),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)
	return &ClickHouseClient{conn: conn}, nil
}

func clickhouseOptions(c config.ClickhouseConfig, forceTLS bool) (*ch.Options, error) {
	hostPort, hostname, secure, err := parseClickhouseURL(c.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{hostPort},
		Auth: ch.Auth{
			Username: c.Username,
			Password: c.Password,
			Database: c.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}
	if !forceTLS && !secure {
		return opts, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostname}
	if caFile := config.GetEnv("CLICKHOUSE_CA_FILE", ""); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read clickhouse CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("clickhouse CA file %s holds no certificates", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	opts.TLS = tlsConfig
	return opts, nil
}

// Exec runs a statement that returns no rows.
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...any) error {
	return c.conn.Exec(ctx, query, args...)
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// parseClickhouseURL accepts clickhouse://, tcp://, http:// and https://
// forms and defaults the port to the native protocol port.
func parseClickhouseURL(raw string) (hostPort, hostname string, secure bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("invalid clickhouse url: %w", err)
	}
	secure = u.Scheme == "https" || u.Scheme == "clickhouses"
	hostname = u.Hostname()
	port := u.Port()
	if port == "" {
		port = "9000"
		if secure {
			port = "9440"
		}
	}
	return net.JoinHostPort(hostname, port), hostname, secure, nil
}

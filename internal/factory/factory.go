package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storefront-api/internal/audit"
	"storefront-api/internal/bucketing"
	"storefront-api/internal/client"
	"storefront-api/internal/clock"
	"storefront-api/internal/config"
	"storefront-api/internal/encryption"
	"storefront-api/internal/hashing"
	"storefront-api/internal/metrics"
	"storefront-api/internal/notify"
	"storefront-api/internal/repository/memory"
	redisrepo "storefront-api/internal/repository/redis"
	"storefront-api/internal/repository/scylla"
	"storefront-api/internal/service"
	"storefront-api/internal/tls"
	"storefront-api/internal/util"
)

const initTimeout = 30 * time.Second

// Factory owns the process-wide clients and the services built on them.
type Factory struct {
	config     *config.Config
	logger     *zap.Logger
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager

	dispatcher     notify.Dispatcher
	recorder       *audit.Fanout
	events         audit.EventSearcher
	metrics        *metrics.Metrics
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory loads configuration from the environment and builds everything.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	return New(ctx, cfg)
}

// New builds a factory from cfg. Outside production a backend that is not
// configured or not reachable is replaced by its in-memory counterpart.
func New(ctx context.Context, cfg *config.Config) (*Factory, error) {
	if err := cfg.Validate(); err != nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		util.Warn("configuration problems", util.ErrorField(err))
	}

	f := &Factory{
		config:  cfg,
		logger:  util.Named("factory"),
		metrics: metrics.New(),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(cfg.Server, cfg.IsProduction())
	}

	if err := f.initializeClients(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("initialize clients: %w", err)
	}
	if err := f.initializeManagers(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("initialize managers: %w", err)
	}
	if err := f.initializeDelivery(ctx); err != nil {
		f.Close()
		return nil, fmt.Errorf("initialize delivery: %w", err)
	}

	sf, err := service.NewServiceFactory(cfg, service.Dependencies{
		Stores:     f.stores(),
		Hasher:     f.hasher,
		Encryption: f.encryptionManager,
		Dispatcher: f.dispatcher,
		Recorder:   f.recorder,
		Metrics:    f.metrics,
		Clock:      clock.Real(),
		Logger:     util.Named("service"),
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("build services: %w", err)
	}
	f.serviceFactory = sf

	f.logger.Info("factory initialized",
		zap.String("environment", cfg.Environment),
		zap.Bool("tls_enabled", cfg.Server.EnableTLS),
		zap.Bool("kms_enabled", cfg.KMS.Enabled),
		zap.Bool("redis", f.redisClient != nil),
		zap.Bool("scylla", f.scyllaClient != nil),
		zap.String("mail_driver", cfg.Mail.Driver),
	)
	return f, nil
}

// initializeClients connects to every configured backend. Redis and Scylla
// hold the access state, so production refuses to start without them.
func (f *Factory) initializeClients(ctx context.Context) error {
	cfg := f.config
	var initErrors []error
	fail := func(component string, err error) {
		initErrors = append(initErrors, fmt.Errorf("%s: %w", component, err))
	}

	if cfg.Redis.URL == "" {
		fail("redis", errors.New("not configured"))
	} else if rc, err := client.NewRedisClient(cfg); err != nil {
		fail("redis", err)
	} else if err := rc.HealthCheck(ctx); err != nil {
		_ = rc.Close()
		fail("redis health check", err)
	} else {
		f.redisClient = rc
		f.logger.Info("redis client initialized")
	}

	if len(cfg.Scylla.Nodes) == 0 {
		fail("scylla", errors.New("not configured"))
	} else if sc, err := scylla.NewScyllaClient(cfg); err != nil {
		fail("scylla", err)
	} else if err := sc.HealthCheck(ctx); err != nil {
		sc.Close()
		fail("scylla health check", err)
	} else {
		f.scyllaClient = sc
		if cfg.Scylla.Migrate {
			if err := sc.Migrate(ctx); err != nil {
				fail("scylla migrate", err)
			}
		}
		f.logger.Info("scylla client initialized")
	}

	// Kafka, Elasticsearch and ClickHouse only carry audit and mail traffic.
	if len(cfg.Kafka.Brokers) > 0 {
		if p, err := client.NewKafkaProducer(cfg); err != nil {
			f.logger.Warn("kafka producer unavailable", zap.Error(err))
		} else {
			f.kafkaProducer = p
		}
	}
	if cfg.Mail.Driver == "kafka" && f.kafkaProducer == nil {
		fail("kafka", errors.New("MAIL_DRIVER=kafka requires a producer"))
	}

	if cfg.Elasticsearch.URL != "" {
		if es, err := client.NewElasticsearchClient(cfg); err != nil {
			f.logger.Warn("elasticsearch unavailable", zap.Error(err))
		} else if err := es.HealthCheck(ctx); err != nil {
			f.logger.Warn("elasticsearch health check failed", zap.Error(err))
		} else {
			f.esClient = es
		}
	}

	if cfg.Clickhouse.URL != "" {
		if ch, err := client.NewClickHouseClient(cfg); err != nil {
			f.logger.Warn("clickhouse unavailable", zap.Error(err))
		} else if err := ch.HealthCheck(ctx); err != nil {
			_ = ch.Close()
			f.logger.Warn("clickhouse health check failed", zap.Error(err))
		} else {
			f.clickhouseClient = ch
		}
	}

	if len(initErrors) > 0 {
		if cfg.IsProduction() {
			return errors.Join(initErrors...)
		}
		for _, err := range initErrors {
			f.logger.Warn("falling back to in-memory state", zap.Error(err))
		}
	}
	return nil
}

func (f *Factory) initializeManagers(ctx context.Context) error {
	hasher, err := hashing.NewHasher(f.config.Hashing)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	var kmsClient encryption.KMSAPI
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	em, err := encryption.NewEncryptionManager(f.config.KMS, kmsClient)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = em
	f.bucketingManager = bucketing.NewBucketingManager(f.config.Bucketing)
	return nil
}

// initializeDelivery picks the access code dispatcher and assembles the
// audit sinks.
func (f *Factory) initializeDelivery(ctx context.Context) error {
	switch f.config.Mail.Driver {
	case "smtp":
		m, err := notify.NewSMTPMailer(f.config.Mail)
		if err != nil {
			return fmt.Errorf("smtp mailer: %w", err)
		}
		f.dispatcher = m
	case "kafka":
		f.dispatcher = notify.NewKafkaDispatcher(f.kafkaProducer, f.config.Kafka.NotificationTopic)
	default:
		f.dispatcher = notify.LogDispatcher{}
	}

	sinks := []audit.Sink{audit.LogSink{}}
	if f.kafkaProducer != nil && f.config.Kafka.AuditTopic != "" {
		sinks = append(sinks, audit.NewKafkaSink(f.kafkaProducer, f.config.Kafka.AuditTopic))
	}
	if f.clickhouseClient != nil {
		ch := audit.NewClickHouseSink(f.clickhouseClient)
		if err := ch.EnsureTable(ctx); err != nil {
			f.logger.Warn("clickhouse audit table unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, ch)
		}
	}
	if f.esClient != nil {
		es := audit.NewElasticSink(f.esClient, f.config.Elasticsearch.AuditIndex)
		if err := es.EnsureIndex(ctx); err != nil {
			f.logger.Warn("elasticsearch audit index unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, es)
			f.events = es
		}
	}
	if f.events == nil {
		mem := audit.NewMemorySink()
		sinks = append(sinks, mem)
		f.events = mem
	}

	f.recorder = audit.NewFanout(f.bucketingManager, sinks...)
	return nil
}

func (f *Factory) stores() service.Stores {
	c := clock.Real()
	s := service.Stores{
		Accounts: memory.NewAccountStore(c),
		Profiles: memory.NewProfileStore(c),
		Sessions: memory.NewSessionStore(c),
		Pending:  memory.NewPendingStore(c),
		Attempts: memory.NewAttemptCounter(c),
	}
	if f.scyllaClient != nil {
		s.Accounts = scylla.NewAccountRepository(f.scyllaClient, f.bucketingManager)
		s.Profiles = scylla.NewProfileRepository(f.scyllaClient)
	}
	if f.redisClient != nil {
		s.Sessions = redisrepo.NewSessionCache(f.redisClient)
		s.Pending = redisrepo.NewPendingAccessCache(f.redisClient)
		s.Attempts = redisrepo.NewRateLimitCache(f.redisClient)
	}
	return s
}

// HealthCheck pings every connected backend concurrently.
func (f *Factory) HealthCheck(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	check := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	if f.redisClient != nil {
		check("redis", f.redisClient.HealthCheck)
	}
	if f.scyllaClient != nil {
		check("scylla", f.scyllaClient.HealthCheck)
	}
	if f.clickhouseClient != nil {
		check("clickhouse", f.clickhouseClient.HealthCheck)
	}
	if f.esClient != nil {
		check("elasticsearch", f.esClient.HealthCheck)
	}
	if f.kafkaProducer != nil && f.config.Mail.Driver == "kafka" {
		check("kafka", f.kafkaProducer.HealthCheck)
	}
	return g.Wait()
}

func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				f.logger.Error("close clickhouse", zap.Error(err))
			}
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				f.logger.Error("close kafka producer", zap.Error(err))
			}
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				f.logger.Error("close redis", zap.Error(err))
			}
		}
		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}
		f.logger.Info("factory closed")
		util.Sync()
	})
}

func (f *Factory) Config() *config.Config { return f.config }
func (f *Factory) TLSManager() *tls.Manager { return f.tlsManager }
func (f *Factory) Services() *service.ServiceFactory { return f.serviceFactory }
func (f *Factory) Events() audit.EventSearcher { return f.events }
func (f *Factory) Metrics() *metrics.Metrics { return f.metrics }
func (f *Factory) Dispatcher() notify.Dispatcher { return f.dispatcher }
func (f *Factory) EncryptionManager() *encryption.EncryptionManager { return f.encryptionManager }

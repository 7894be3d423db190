package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"storefront-api/internal/client"
	"storefront-api/internal/models"
	"storefront-api/internal/util"
)

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, event models.AccessEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(event.AccountID), payload,
		map[string]string{"event_type": string(event.Type)})
}

// Execer is satisfied by client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

const (
	clickhouseTableDDL = `CREATE TABLE IF NOT EXISTS elevated_access_events (
        event_id String,
        event_bucket UInt16,
        event_date Date,
        account_id String,
        role LowCardinality(String),
        event_type LowCardinality(String),
        reason String,
        session_id String,
        occurred_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    PARTITION BY toYYYYMM(event_date)
    ORDER BY (account_id, occurred_at)`

	clickhouseInsert = `INSERT INTO elevated_access_events
        (event_id, event_bucket, event_date, account_id, role, event_type, reason, session_id, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

type ClickHouseSink struct {
	conn Execer
}

func NewClickHouseSink(conn Execer) *ClickHouseSink {
	return &ClickHouseSink{conn: conn}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, clickhouseTableDDL)
}

func (s *ClickHouseSink) Write(ctx context.Context, e models.AccessEvent) error {
	return s.conn.Exec(ctx, clickhouseInsert,
		e.EventID, uint16(e.EventBucket), e.OccurredAt, e.AccountID, string(e.Role),
		string(e.Type), e.Reason, e.SessionID, e.OccurredAt)
}

// Indexer is the part of client.ESClient the Elasticsearch sink uses.
type Indexer interface {
	EnsureIndex(ctx context.Context, index, mapping string) error
	IndexDocument(ctx context.Context, index, id string, document any) error
	Search(ctx context.Context, index string, query map[string]any) (*client.SearchResult, error)
}

const elasticMapping = `{
  "mappings": {
    "properties": {
      "event_id":     {"type": "keyword"},
      "event_bucket": {"type": "integer"},
      "event_date":   {"type": "date", "format": "yyyy-MM-dd"},
      "account_id":   {"type": "keyword"},
      "role":         {"type": "keyword"},
      "event_type":   {"type": "keyword"},
      "reason":       {"type": "text"},
      "session_id":   {"type": "keyword"},
      "occurred_at":  {"type": "date"}
    }
  }
}`

type ElasticSink struct {
	es    Indexer
	index string
}

func NewElasticSink(es Indexer, index string) *ElasticSink {
	return &ElasticSink{es: es, index: index}
}

func (s *ElasticSink) Name() string { return "elasticsearch" }

func (s *ElasticSink) EnsureIndex(ctx context.Context) error {
	return s.es.EnsureIndex(ctx, s.index, elasticMapping)
}

func (s *ElasticSink) Write(ctx context.Context, event models.AccessEvent) error {
	return s.es.IndexDocument(ctx, s.index, event.EventID, event)
}

func (s *ElasticSink) EventsForAccount(ctx context.Context, accountID string, limit int) ([]models.AccessEvent, error) {
	result, err := s.es.Search(ctx, s.index, map[string]any{
		"size": limit,
		"query": map[string]any{
			"term": map[string]any{"account_id": accountID},
		},
		"sort": []any{
			map[string]any{"occurred_at": map[string]any{"order": "desc"}},
		},
	})
	if err != nil {
		return nil, err
	}

	events := make([]models.AccessEvent, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var e models.AccessEvent
		if err := json.Unmarshal(hit.Source, &e); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", hit.ID, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, e models.AccessEvent) error {
	util.Info("elevated access event",
		zap.String("event_id", e.EventID),
		zap.String("event_type", string(e.Type)),
		zap.String("account_id", e.AccountID),
		zap.String("role", string(e.Role)),
		zap.String("reason", e.Reason))
	return nil
}

// MemorySink keeps events in process; it backs development mode and tests.
type MemorySink struct {
	mu     sync.RWMutex
	events []models.AccessEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(_ context.Context, e models.AccessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemorySink) EventsForAccount(_ context.Context, accountID string, limit int) ([]models.AccessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AccessEvent
	for _, e := range s.events {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []models.AccessEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AccessEvent(nil), s.events...)
}

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storefront-api/internal/bucketing"
	"storefront-api/internal/client"
	"storefront-api/internal/config"
	"storefront-api/internal/models"
)

type failingSink struct{}

func (failingSink) Name() string { return "broken" }
func (failingSink) Write(context.Context, models.AccessEvent) error {
	return errors.New("sink offline")
}

func event(account string, typ models.AccessEventType, at time.Time) models.AccessEvent {
	return models.AccessEvent{AccountID: account, Role: models.RoleAdmin, Type: typ, OccurredAt: at}
}

func TestFanout_StampsAndContinuesPastFailures(t *testing.T) {
	mem := NewMemorySink()
	bm := bucketing.NewBucketingManager(config.BucketingConfig{AccountBuckets: 8, EventBuckets: 8})
	f := NewFanout(bm, failingSink{}, mem, LogSink{})

	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	err := f.Record(context.Background(), event("acc1", models.EventAccessGranted, at))
	require.ErrorContains(t, err, "broken: sink offline")

	got := mem.Events()
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].EventID)
	require.Equal(t, "2026-05-04", got[0].EventDate)
	require.Equal(t, bm.GetEventBucket("acc1"), got[0].EventBucket)
}

func TestMemorySink_EventsForAccount(t *testing.T) {
	mem := NewMemorySink()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, mem.Write(ctx, event("acc1", models.EventAccessRequested, base)))
	require.NoError(t, mem.Write(ctx, event("acc2", models.EventAccessRequested, base)))
	require.NoError(t, mem.Write(ctx, event("acc1", models.EventAccessGranted, base.Add(time.Minute))))
	require.NoError(t, mem.Write(ctx, event("acc1", models.EventAccessRevoked, base.Add(2*time.Minute))))

	got, err := mem.EventsForAccount(ctx, "acc1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, models.EventAccessRevoked, got[0].Type)
	require.Equal(t, models.EventAccessGranted, got[1].Type)
}

type recordingExec struct {
	queries []string
	args    [][]any
}

func (r *recordingExec) Exec(_ context.Context, query string, args ...any) error {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	exec := &recordingExec{}
	sink := NewClickHouseSink(exec)
	require.NoError(t, sink.EnsureTable(context.Background()))

	e := event("acc1", models.EventAccessExpired, time.Now().UTC())
	e.EventID = "01HZX"
	require.NoError(t, sink.Write(context.Background(), e))

	require.Len(t, exec.queries, 2)
	require.True(t, strings.HasPrefix(exec.queries[0], "CREATE TABLE IF NOT EXISTS elevated_access_events"))
	require.Len(t, exec.args[1], 9)
	require.Equal(t, "01HZX", exec.args[1][0])
	require.Equal(t, "access_expired", exec.args[1][5])
}

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (f *fakeIndex) EnsureIndex(context.Context, string, string) error { return nil }

func (f *fakeIndex) IndexDocument(_ context.Context, _ string, id string, doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[id] = b
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, query map[string]any) (*client.SearchResult, error) {
	term := query["query"].(map[string]any)["term"].(map[string]any)["account_id"].(string)
	f.mu.Lock()
	defer f.mu.Unlock()

	var res client.SearchResult
	for id, doc := range f.docs {
		var e models.AccessEvent
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		if e.AccountID != term {
			continue
		}
		res.Hits.Hits = append(res.Hits.Hits, struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		}{ID: id, Source: doc})
	}
	res.Hits.Total.Value = len(res.Hits.Hits)
	return &res, nil
}

func TestElasticSink(t *testing.T) {
	idx := &fakeIndex{docs: map[string][]byte{}}
	sink := NewElasticSink(idx, "elevated-access-events")
	ctx := context.Background()
	require.NoError(t, sink.EnsureIndex(ctx))

	e := event("acc9", models.EventAccessDenied, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e.EventID = "evt-1"
	e.Reason = "grant expired"
	require.NoError(t, sink.Write(ctx, e))
	require.NoError(t, sink.Write(ctx, models.AccessEvent{EventID: "evt-2", AccountID: "other"}))

	got, err := sink.EventsForAccount(ctx, "acc9", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "grant expired", got[0].Reason)
	require.Equal(t, models.EventAccessDenied, got[0].Type)
}

type capturingProducer struct {
	topic string
	key   []byte
	value []byte
}

func (p *capturingProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, _ map[string]string) error {
	p.topic, p.key, p.value = topic, key, value
	return nil
}

func TestKafkaSink(t *testing.T) {
	p := &capturingProducer{}
	sink := NewKafkaSink(p, "audit.elevated-access")
	require.NoError(t, sink.Write(context.Background(), event("acc1", models.EventAccessRequested, time.Now())))
	require.Equal(t, "audit.elevated-access", p.topic)
	require.Equal(t, []byte("acc1"), p.key)
	require.Contains(t, string(p.value), `"event_type":"access_requested"`)
}

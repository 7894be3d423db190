package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"storefront-api/internal/config"
)

func TestParseClickhouseURL(t *testing.T) {
	cases := []struct {
		raw      string
		hostPort string
		secure   bool
	}{
		{"localhost", "localhost:9000", false},
		{"tcp://ch:9001", "ch:9001", false},
		{"https://ch.example.com", "ch.example.com:9440", true},
		{"clickhouse://ch:9000", "ch:9000", false},
	}
	for _, tc := range cases {
		hostPort, _, secure, err := parseClickhouseURL(tc.raw)
		require.NoError(t, err, tc.raw)
		require.Equal(t, tc.hostPort, hostPort, tc.raw)
		require.Equal(t, tc.secure, secure, tc.raw)
	}
}

func TestRedisClient_Basics(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	ctx := context.Background()

	_, err := rc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, rc.Set(ctx, "k", "v", time.Minute))
	v, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	ok, err := rc.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, rc.HealthCheck(ctx))
}

func TestRedisClient_IncrWithExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := WrapRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	n, err := rc.IncrWithExpire(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	mr.FastForward(30 * time.Second)
	n, err = rc.IncrWithExpire(ctx, "ctr", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	// the window is fixed from the first hit
	mr.FastForward(31 * time.Second)
	require.False(t, mr.Exists("ctr"))
}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaProducer_ProduceMessage(t *testing.T) {
	w := &recordingWriter{}
	p := NewKafkaProducerWithWriter(w, config.KafkaConfig{})

	err := p.ProduceMessage(context.Background(), "topic-a", []byte("key"), []byte("value"), map[string]string{"type": "x"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "topic-a", w.msgs[0].Topic)
	require.Equal(t, []kafka.Header{{Key: "type", Value: []byte("x")}}, w.msgs[0].Headers)

	w.err = errors.New("broker down")
	err = p.ProduceMessage(context.Background(), "topic-a", nil, []byte("v"), nil)
	require.ErrorContains(t, err, "broker down")
}

func TestClickhouseOptions(t *testing.T) {
	opts, err := clickhouseOptions(config.ClickhouseConfig{URL: "localhost", Database: "storefront"}, false)
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9000"}, opts.Addr)
	require.Nil(t, opts.TLS)

	opts, err = clickhouseOptions(config.ClickhouseConfig{URL: "https://ch.example.com"}, false)
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)
	require.Equal(t, "ch.example.com", opts.TLS.ServerName)

	opts, err = clickhouseOptions(config.ClickhouseConfig{URL: "ch:9000"}, true)
	require.NoError(t, err)
	require.NotNil(t, opts.TLS)
}

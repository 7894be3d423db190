package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"storefront-api/internal/util"
)

// MessageSource is satisfied by client.KafkaConsumer.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Relay moves queued access codes from Kafka to a Dispatcher. Offsets are
// committed only after a message is delivered, dropped as expired, or
// given up on.
type Relay struct {
	source   MessageSource
	sender   Dispatcher
	attempts int
	backoff  time.Duration
	now      func() time.Time

	undelivered atomic.Int64
}

func NewRelay(source MessageSource, sender Dispatcher) *Relay {
	return &Relay{
		source:   source,
		sender:   sender,
		attempts: 3,
		backoff:  2 * time.Second,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.Error("relay fetch failed", zap.Error(err))
			if !sleep(ctx, r.backoff) {
				return nil
			}
			continue
		}

		r.handle(ctx, msg)

		if err := r.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			util.Error("relay commit failed", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (r *Relay) handle(ctx context.Context, raw kafka.Message) {
	var msg AccessCodeMessage
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		util.Error("relay dropped undecodable message", zap.Int64("offset", raw.Offset), zap.Error(err))
		return
	}
	if msg.Expired(r.now()) {
		util.Info("relay dropped expired access code",
			zap.String("to", util.MaskEmail(msg.To)),
			zap.String("role", msg.Role.String()))
		return
	}

	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = r.sender.SendAccessCode(ctx, msg)
		if err == nil {
			return
		}
		if errors.Is(err, ErrInvalidMessage) {
			util.Error("relay dropped invalid message", zap.Int64("offset", raw.Offset))
			return
		}
		util.Warn("relay delivery failed",
			zap.Int("attempt", attempt),
			zap.String("to", util.MaskEmail(msg.To)),
			zap.Error(err))
		if attempt < r.attempts && !sleep(ctx, r.backoff*time.Duration(attempt)) {
			return
		}
	}
	r.abandon(raw, msg, err)
}

// abandon records a message whose code was issued but never delivered. The
// pending code stays live until its TTL; the user has to request a new one.
func (r *Relay) abandon(raw kafka.Message, msg AccessCodeMessage, err error) {
	r.undelivered.Add(1)

	fields := []zap.Field{
		zap.String("topic", raw.Topic),
		zap.Int("partition", raw.Partition),
		zap.Int64("offset", raw.Offset),
		zap.String("to", util.MaskEmail(msg.To)),
		zap.String("role", msg.Role.String()),
		zap.Error(err),
	}
	if !msg.IssuedAt.IsZero() {
		fields = append(fields, zap.Time("pending_until", msg.IssuedAt.Add(msg.ExpiresIn)))
	}
	util.Error("relay gave up on access code", fields...)
}

// Undelivered counts messages given up on since start.
func (r *Relay) Undelivered() int64 {
	return r.undelivered.Load()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"storefront-api/internal/util"
)

// Publisher is satisfied by client.KafkaProducer.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaDispatcher queues codes for cmd/mailer. A successful publish counts as
// a successful dispatch; delivery retries happen in the relay, and a message
// the relay abandons leaves its pending code live until the TTL.
type KafkaDispatcher struct {
	producer Publisher
	topic    string
}

func NewKafkaDispatcher(producer Publisher, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: topic}
}

func (d *KafkaDispatcher) SendAccessCode(ctx context.Context, msg AccessCodeMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode access code message: %w", err)
	}

	headers := map[string]string{
		"type": "access_code",
		"role": msg.Role.String(),
	}
	if err := d.producer.ProduceMessage(ctx, d.topic, []byte(msg.To), payload, headers); err != nil {
		util.Error("failed to queue access code",
			zap.String("topic", d.topic),
			zap.String("role", msg.Role.String()),
			zap.Error(err))
		return err
	}
	return nil
}

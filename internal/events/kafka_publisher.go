package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/domain"
)

// KafkaMirror republishes committed events onto a topic for downstream consumers.
type KafkaMirror struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

type kafkaEvent struct {
	ID         string            `json:"id"`
	TicketID   string            `json:"ticket_id"`
	Kind       domain.EventKind  `json:"kind"`
	Payload    map[string]string `json:"payload"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewKafkaProducer builds an idempotent sync producer.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	return sarama.NewSyncProducer(brokers, cfg)
}

// NewKafkaMirror wraps producer.
func NewKafkaMirror(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaMirror{producer: producer, topic: topic, logger: logger}
}

type sendResult struct {
	partition int32
	offset    int64
	err       error
}

// Handle publishes event keyed by ticket id so per-ticket order is kept.
// It returns when ctx is done even if the broker has not answered; the
// caller then retries and the idempotent producer drops the duplicate.
func (m *KafkaMirror) Handle(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(kafkaEvent{
		ID:         event.ID,
		TicketID:   event.TicketID,
		Kind:       event.Kind,
		Payload:    event.Payload,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	msg := &sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(event.TicketID),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.ID)},
			{Key: []byte("kind"), Value: []byte(event.Kind)},
		},
	}
	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := m.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("mirror event %s: %w", event.ID, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("mirror event %s: %w", event.ID, res.err)
		}
		m.logger.Debug("event mirrored",
			zap.String("event_id", event.ID),
			zap.Int32("partition", res.partition),
			zap.Int64("offset", res.offset))
		return nil
	}
}

// Close releases the producer.
func (m *KafkaMirror) Close() error {
	if m == nil || m.producer == nil {
		return nil
	}
	return m.producer.Close()
}

package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Upgrade lifecycle event types published to the event stream.
const (
	EventUpgradeInitiated = "nft-upgrade-initiated"
	EventUpgradeCompleted = "nft-upgrade-completed"
	EventUpgradeFailed    = "nft-upgrade-failed"
)

// EventPublisher is the fire-and-forget event stream collaborator. Publish
// failures must never fail the upgrade itself; implementations log and
// swallow them.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, payload map[string]interface{})
}

// KafkaEventStream publishes lifecycle events to a single Kafka topic,
// keyed by user id so one user's events stay ordered within a partition.
type KafkaEventStream struct {
	writer *kafka.Writer
}

func NewKafkaEventStream(brokers []string, topic string) *KafkaEventStream {
	return &KafkaEventStream{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish emits one event. Errors are logged and swallowed: observability
// must not threaten correctness.
func (s *KafkaEventStream) Publish(ctx context.Context, eventType, key string, payload map[string]interface{}) {
	payload["eventType"] = eventType
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	value, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EventStream] ❌ Failed to encode %s event: %v", eventType, err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	}); err != nil {
		log.Printf("[EventStream] ❌ Failed to publish %s event for key %s: %v", eventType, key, err)
	}
}

func (s *KafkaEventStream) Close() error {
	return s.writer.Close()
}

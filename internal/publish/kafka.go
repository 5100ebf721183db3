// Package publish forwards stored snapshots to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"pair-apr-lab/internal/domain"
	"pair-apr-lab/internal/ingestion"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "pair-snapshots"

// Kafka publishes each snapshot as a JSON message keyed by pair, so one
// pair's snapshots land on one partition in timestamp order.
type Kafka struct {
	producer sarama.SyncProducer
	topic    string
}

// Compile-time interface check.
var _ ingestion.SnapshotSink = (*Kafka)(nil)

// NewKafka wraps an existing producer.
func NewKafka(producer sarama.SyncProducer, topic string) *Kafka {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Kafka{producer: producer, topic: topic}
}

// Config returns the producer configuration used by DialKafka.
func Config() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// DialKafka connects a sync producer to brokers.
func DialKafka(brokers []string, topic string) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	producer, err := sarama.NewSyncProducer(brokers, Config())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafka(producer, topic), nil
}

// Name implements ingestion.SnapshotSink.
func (k *Kafka) Name() string { return "kafka" }

// Publish sends snapshots in one batch.
func (k *Kafka) Publish(ctx context.Context, snapshots []*domain.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(snapshots))
	for _, s := range snapshots {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:     k.topic,
			Key:       sarama.StringEncoder(s.PairID),
			Value:     sarama.ByteEncoder(payload),
			Timestamp: s.Timestamp,
		})
	}

	if err := k.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("send %d snapshots: %w", len(msgs), err)
	}
	return nil
}

// Close flushes and closes the producer.
func (k *Kafka) Close() error {
	return k.producer.Close()
}

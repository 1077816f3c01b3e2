package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Envelope wraps every message on the alert topic.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // Unix millis
	Data json.RawMessage `json:"data"`
}

// KafkaSink publishes alerts to a topic, keyed by address so one address's
// alerts stay ordered within a partition.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p}
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

func (s *KafkaSink) Publish(ctx context.Context, alert Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{
		Type: alert.AlertType,
		TS:   time.Now().UnixMilli(),
		Data: data,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(alert.Address),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

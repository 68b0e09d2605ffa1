package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes alerts as JSON records keyed by ticker, so all alerts of a
// ticker land on the same partition in order.
type Kafka struct {
	name   string
	writer messageWriter
}

// NewKafka creates a kafka channel writing to topic.
func NewKafka(name string, brokers []string, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  1,
	}
	return &Kafka{name: name, writer: w}
}

// Name implements Channel.
func (k *Kafka) Name() string { return k.name }

// Send implements Channel.
func (k *Kafka) Send(ctx context.Context, a alerts.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.Ticker),
		Value: value,
		Time:  a.Timestamp,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(a.Severity)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.writer.Close() }

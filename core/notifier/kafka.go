// Package notifier publishes store notifications to Kafka.
package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/aepmonitor/core"
	"github.com/relabs-tech/aepmonitor/core/logger"
)

// LoggerContextHeader carries the serialized request logger, so that consumers can
// continue logging with the request id of the change
const LoggerContextHeader = "logger-context"

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka notifier
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka implements core.Notifier. Every notification becomes one message keyed by the
// resource id, so that changes of the same resource keep their order.
type Kafka struct {
	writer kafkaWriter
	topic  string
}

// NewKafka creates a notifier writing to cfg.Topic
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w, topic: cfg.Topic}, nil
}

// Notify implements core.Notifier
func (k *Kafka) Notify(ctx context.Context, n core.Notification) error {
	if k == nil || k.writer == nil {
		return fmt.Errorf("kafka notifier not initialized")
	}
	value, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(n.ResourceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "resource", Value: []byte(n.Resource)},
			{Key: "operation", Value: []byte(n.Operation)},
		},
	}
	if logger.RequestIDFromContext(ctx) != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: LoggerContextHeader, Value: logger.SerializeLoggerContext(ctx)})
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("cannot publish %s notification to %s: %w", n.Resource, k.topic, err)
	}
	logger.FromContext(ctx).Debugf("published %s %s of %s", n.Operation, n.Resource, n.ResourceID)
	return nil
}

// Close flushes pending messages
func (k *Kafka) Close() error {
	if k == nil || k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

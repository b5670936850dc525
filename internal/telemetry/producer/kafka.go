package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"lms-bridge/internal/telemetry/domain"
)

const writeTimeout = 5 * time.Second

// KafkaProducer publishes bridge events as JSON messages on one topic.
type KafkaProducer struct {
	writer *kafka.Writer
	log    logrus.FieldLogger
}

// NewKafkaProducer returns a producer for topic on brokers, or nil when either is empty so that
// event publishing stays off.
func NewKafkaProducer(brokers []string, topic string) (*KafkaProducer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, nil
	}
	return &KafkaProducer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		log: logrus.WithFields(logrus.Fields{"component": "kafka_producer", "topic": topic}),
	}, nil
}

// Emit writes event within writeTimeout.
func (p *KafkaProducer) Emit(ctx context.Context, event *domain.Event) error {
	if p == nil || event == nil {
		return nil
	}
	msg, err := message(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).WithField("event_type", event.EventType).Warn("kafka write failed")
		return fmt.Errorf("kafka: write %s: %w", event.EventType, err)
	}
	return nil
}

// message keys events by user so one user's provisioning and SSO history lands on one partition
// in order. Events without a user are keyed by type.
func message(event *domain.Event) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode event: %w", err)
	}
	key := event.UserID
	if key == "" {
		key = event.EventType
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}, nil
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

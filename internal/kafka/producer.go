package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-checkout/internal/logger"

	"github.com/segmentio/kafka-go"
)

// Producer publishes JSON events to any topic through one writer.
type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           10 * time.Second,
	}
	return &Producer{Writer: writer, logger: log}
}

// Publish keys the message so every event of one order lands on one partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}

	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	}); err != nil {
		p.logger.Error("KAFKA", fmt.Sprintf("publish to %s failed for %s: %v", topic, key, err))
		return err
	}

	p.logger.LogKafka("PUBLISHED", topic, key)
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// NopProducer is used when Kafka is disabled.
type NopProducer struct{}

func (NopProducer) Publish(context.Context, string, string, interface{}) error { return nil }

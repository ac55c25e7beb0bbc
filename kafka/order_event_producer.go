package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lenmanean/logbloga/models"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventProducer publishes order lifecycle events keyed by order id, so
// every event of one order lands on the same partition.
type OrderEventProducer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewOrderEventProducer(brokers []string, topic string, logger *zap.Logger) *OrderEventProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Info("kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &OrderEventProducer{writer: w, topic: topic, logger: logger}
}

func (p *OrderEventProducer) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}

	p.logger.Debug("order event sent",
		zap.String("topic", p.topic),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

func (p *OrderEventProducer) Close() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("kafka producer close failed", zap.Error(err))
		return
	}
	p.logger.Info("kafka producer closed")
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lenmanean/logbloga/models"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
)

// MetricsRecorder is the part of the CloudWatch client services use.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// EventPublisher announces order lifecycle changes to other systems.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// SNSEventPublisher fans order events out through an SNS topic.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.topicArn, data, map[string]string{"event_type": event.EventType}); err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}

// MultiPublisher sends every event to all of its publishers and joins their
// errors.
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

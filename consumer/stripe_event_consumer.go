package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/lenmanean/logbloga/common/logger"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/services"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// EventProcessor applies one Stripe event.
type EventProcessor interface {
	Process(ctx context.Context, event stripe.Event) (*services.ProcessResult, error)
}

// Poller delivers queue message bodies to a handler until ctx is done.
type Poller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// StripeEventConsumer feeds Stripe events that arrive through SQS (from an
// EventBridge rule on the Stripe partner bus, or an SNS fan-out) into the
// same processor the webhook endpoint uses.
type StripeEventConsumer struct {
	poller    Poller
	processor EventProcessor
	logger    *zap.Logger
}

func NewStripeEventConsumer(poller Poller, processor EventProcessor, logger *zap.Logger) *StripeEventConsumer {
	return &StripeEventConsumer{poller: poller, processor: processor, logger: logger}
}

// Start blocks until ctx is cancelled.
func (c *StripeEventConsumer) Start(ctx context.Context) {
	c.logger.Info("stripe event consumer started")
	err := c.poller.StartPolling(ctx, c.HandleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("stripe event consumer stopped", zap.Error(err))
	}
}

type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

type eventBridgeEnvelope struct {
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// unwrap strips the SNS and EventBridge envelopes, in that order, and returns
// the raw Stripe event.
func unwrap(body []byte) []byte {
	var sns snsEnvelope
	if err := json.Unmarshal(body, &sns); err == nil && sns.Message != "" {
		body = []byte(sns.Message)
	}
	var eb eventBridgeEnvelope
	if err := json.Unmarshal(body, &eb); err == nil && eb.DetailType != "" && len(eb.Detail) > 0 {
		body = eb.Detail
	}
	return body
}

// HandleMessage processes one queue message. Unparseable messages are
// dropped; processing errors keep the message for redelivery.
func (c *StripeEventConsumer) HandleMessage(ctx context.Context, body string) error {
	var event stripe.Event
	if err := json.Unmarshal(unwrap([]byte(body)), &event); err != nil || event.ID == "" || event.Type == "" {
		c.logger.Error("dropping unparseable stripe event message", zap.Error(err))
		return nil
	}

	ctx = logger.WithContext(ctx, "sqs-"+event.ID)
	result, err := c.processor.Process(ctx, event)
	if err != nil {
		return err
	}
	c.logger.Debug("stripe event consumed",
		zap.String("event_id", event.ID),
		zap.String("skipped", string(result.Skipped)),
		zap.Bool("status_changed", result.StatusChanged),
	)
	return nil
}

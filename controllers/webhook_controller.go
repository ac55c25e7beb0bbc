package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/common/logger"
	"github.com/lenmanean/logbloga/services"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// WebhookVerifier authenticates a raw webhook request.
type WebhookVerifier interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

type EventProcessor interface {
	Process(ctx context.Context, event stripe.Event) (*services.ProcessResult, error)
}

type WebhookController struct {
	verifier  WebhookVerifier
	processor EventProcessor
	logger    *zap.Logger
}

func NewWebhookController(verifier WebhookVerifier, processor EventProcessor, logger *zap.Logger) *WebhookController {
	return &WebhookController{verifier: verifier, processor: processor, logger: logger}
}

// StripeWebhook answers 400 for a bad signature and 500 when the event must be
// redelivered. Everything else, including skipped events, is acknowledged.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	log := logger.FromContext(c.Request.Context(), wc.logger)

	event, err := wc.verifier.ParseWebhook(c.Request)
	if err != nil {
		log.Warn("stripe webhook signature verification failed", zap.Error(err))
		_ = c.Error(apperrors.New(http.StatusBadRequest, "Invalid webhook", err))
		return
	}

	result, err := wc.processor.Process(c.Request.Context(), event)
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}

	log.Info("stripe webhook handled",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("skipped", string(result.Skipped)),
		zap.Int("failed_side_effects", len(result.Failed())),
	)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

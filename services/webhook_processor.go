package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/common/logger"
	"github.com/lenmanean/logbloga/models"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/repository"
	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// SkipReason says why an event did not change an order.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipUnhandledType     SkipReason = "unhandled_type"
	SkipDuplicateEvent    SkipReason = "duplicate_event"
	SkipMalformed         SkipReason = "malformed_payload"
	SkipOrderNotFound     SkipReason = "order_not_found"
	SkipInvalidTransition SkipReason = "invalid_transition"
	SkipAlreadyApplied    SkipReason = "already_applied"
)

const (
	sideEffectTimeout = 15 * time.Second
	recordTimeout     = 5 * time.Second
)

// SideEffectOutcome is the result of one best-effort action attached to a
// status change.
type SideEffectOutcome struct {
	Kind   models.SideEffectKind
	Detail string
	Err    error
}

func (o SideEffectOutcome) OK() bool { return o.Err == nil }

// ProcessResult describes what processing one event did.
type ProcessResult struct {
	EventID        string
	EventType      string
	OrderID        uuid.UUID
	PreviousStatus models.OrderStatus
	NewStatus      models.OrderStatus
	StatusChanged  bool
	Skipped        SkipReason
	Outcomes       []SideEffectOutcome
}

// Failed returns the side effects that did not succeed.
func (r *ProcessResult) Failed() []SideEffectOutcome {
	return lo.Filter(r.Outcomes, func(o SideEffectOutcome, _ int) bool { return !o.OK() })
}

type WebhookProcessorConfig struct {
	// NotifyOnCancelRefund sends a status-update email for cancelled and
	// refunded orders.
	NotifyOnCancelRefund bool
	AppBaseURL           string
}

type WebhookDependencies struct {
	Orders        repository.OrderRepository
	Events        repository.WebhookEventRepository
	Failures      repository.SideEffectRepository
	Licenses      LicenseService
	Notifications NotificationService
	Coupons       CouponService
	// Publisher and Metrics are optional.
	Publisher EventPublisher
	Metrics   MetricsRecorder
}

// WebhookProcessor turns Stripe events into order transitions. The status
// update is the only step that must succeed; everything attached to it is
// best-effort and recorded as a SideEffectOutcome.
type WebhookProcessor struct {
	deps   WebhookDependencies
	cfg    WebhookProcessorConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewWebhookProcessor(deps WebhookDependencies, cfg WebhookProcessorConfig, logger *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

var handledEvents = map[stripe.EventType]bool{
	stripe.EventTypeCheckoutSessionCompleted:   true,
	stripe.EventTypePaymentIntentSucceeded:     true,
	stripe.EventTypePaymentIntentPaymentFailed: true,
	stripe.EventTypeChargeRefunded:             true,
}

// Process handles one verified event. A non-nil error means the event should
// be redelivered: the ledger could not be written or the status update failed.
// Events that can never succeed (unknown order, malformed payload, disallowed
// transition) are logged and reported through ProcessResult.Skipped.
func (p *WebhookProcessor) Process(ctx context.Context, event stripe.Event) (*ProcessResult, error) {
	result := &ProcessResult{EventID: event.ID, EventType: string(event.Type)}
	log := logger.FromContext(ctx, p.logger).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)

	if !handledEvents[event.Type] {
		log.Info("unhandled webhook event type")
		result.Skipped = SkipUnhandledType
		return result, nil
	}

	var payload []byte
	if event.Data != nil {
		payload = event.Data.Raw
	}
	fresh, err := p.deps.Events.Begin(ctx, models.ProviderStripe, event.ID, string(event.Type), payload)
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if !fresh {
		log.Info("webhook event already processed")
		p.count(ctx, aws_pkg.MetricWebhookDuplicates, map[string]string{"EventType": string(event.Type)})
		result.Skipped = SkipDuplicateEvent
		return result, nil
	}
	p.count(ctx, aws_pkg.MetricWebhookEvents, map[string]string{"EventType": string(event.Type)})

	procErr := p.dispatch(ctx, log, event, result)
	markCtx, cancel := detached(ctx)
	defer cancel()
	if err := p.deps.Events.MarkProcessed(markCtx, models.ProviderStripe, event.ID, procErr); err != nil {
		// A redelivery finds the order already moved and stops there.
		log.Error("failed to close webhook event", zap.Error(err))
	}
	if procErr != nil {
		log.Error("webhook processing failed", zap.Error(procErr))
		return result, procErr
	}
	return result, nil
}

func (p *WebhookProcessor) dispatch(ctx context.Context, log *zap.Logger, event stripe.Event, result *ProcessResult) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		log.Warn("webhook event without data")
		result.Skipped = SkipMalformed
		return nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return p.handleCheckoutCompleted(ctx, log, event, result)
	case stripe.EventTypePaymentIntentSucceeded:
		return p.handlePaymentIntent(ctx, log, event, models.OrderStatusCompleted, result)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return p.handlePaymentIntent(ctx, log, event, models.OrderStatusCancelled, result)
	case stripe.EventTypeChargeRefunded:
		return p.handleChargeRefunded(ctx, log, event, result)
	}
	return nil
}

// orderIDFromMetadata reads the order id set at checkout creation. Sessions
// created by older clients used the camel-case key.
func orderIDFromMetadata(metadata map[string]string) (uuid.UUID, bool) {
	for _, key := range []string{"order_id", "orderId"} {
		if raw, ok := metadata[key]; ok {
			id, err := uuid.Parse(raw)
			return id, err == nil
		}
	}
	return uuid.Nil, false
}

func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, log *zap.Logger, event stripe.Event, result *ProcessResult) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		log.Error("failed to unmarshal checkout session", zap.Error(err))
		result.Skipped = SkipMalformed
		return nil
	}

	orderID, ok := orderIDFromMetadata(sess.Metadata)
	if !ok {
		log.Warn("checkout session without a usable order id",
			zap.String("session_id", sess.ID),
			zap.Any("metadata", sess.Metadata),
		)
		result.Skipped = SkipOrderNotFound
		return nil
	}

	update := models.PaymentInfoUpdate{
		CheckoutSessionID: &sess.ID,
		Status:            models.OrderStatusProcessing,
	}
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		update.PaymentIntentID = &sess.PaymentIntent.ID
	}
	return p.transition(ctx, log, event, orderID, update, result)
}

func (p *WebhookProcessor) handlePaymentIntent(ctx context.Context, log *zap.Logger, event stripe.Event, target models.OrderStatus, result *ProcessResult) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		log.Error("failed to unmarshal payment intent", zap.Error(err))
		result.Skipped = SkipMalformed
		return nil
	}
	log = log.With(zap.String("payment_intent_id", pi.ID))

	orderID, ok, err := p.resolveByPaymentIntent(ctx, pi.ID)
	if err != nil {
		return err
	}
	if !ok {
		// The intent id is stored by checkout.session.completed; an event that
		// overtakes it still carries the order id in the intent metadata.
		orderID, ok = orderIDFromMetadata(pi.Metadata)
	}
	if !ok {
		log.Warn("no order for payment intent")
		result.Skipped = SkipOrderNotFound
		return nil
	}

	if target == models.OrderStatusCancelled && pi.LastPaymentError != nil {
		log.Info("payment failed", zap.String("reason", pi.LastPaymentError.Msg))
	}

	return p.transition(ctx, log, event, orderID, models.PaymentInfoUpdate{
		PaymentIntentID: &pi.ID,
		Status:          target,
	}, result)
}

func (p *WebhookProcessor) handleChargeRefunded(ctx context.Context, log *zap.Logger, event stripe.Event, result *ProcessResult) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		log.Error("failed to unmarshal charge", zap.Error(err))
		result.Skipped = SkipMalformed
		return nil
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		log.Warn("refunded charge without payment intent", zap.String("charge_id", charge.ID))
		result.Skipped = SkipOrderNotFound
		return nil
	}
	log = log.With(
		zap.String("payment_intent_id", charge.PaymentIntent.ID),
		zap.Int64("amount_refunded", charge.AmountRefunded),
	)

	orderID, ok, err := p.resolveByPaymentIntent(ctx, charge.PaymentIntent.ID)
	if err != nil {
		return err
	}
	if !ok {
		log.Warn("no order for refunded charge")
		result.Skipped = SkipOrderNotFound
		return nil
	}

	return p.transition(ctx, log, event, orderID, models.PaymentInfoUpdate{
		Status: models.OrderStatusRefunded,
	}, result)
}

func (p *WebhookProcessor) resolveByPaymentIntent(ctx context.Context, paymentIntentID string) (uuid.UUID, bool, error) {
	order, err := p.deps.Orders.FindOrderByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find order by payment intent: %w", err)
	}
	if order == nil {
		return uuid.Nil, false, nil
	}
	return order.ID, true, nil
}

// transition applies update and, when the status actually changed, runs the
// side effects of the new status.
func (p *WebhookProcessor) transition(ctx context.Context, log *zap.Logger, event stripe.Event, orderID uuid.UUID, update models.PaymentInfoUpdate, result *ProcessResult) error {
	log = log.With(zap.String("order_id", orderID.String()))
	result.OrderID = orderID

	res, err := p.deps.Orders.UpdateOrderPaymentInfo(ctx, orderID, update)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		log.Warn("order not found")
		result.Skipped = SkipOrderNotFound
		return nil
	case errors.Is(err, models.ErrInvalidTransition):
		log.Warn("ignoring out-of-order status change", zap.Error(err))
		result.Skipped = SkipInvalidTransition
		p.storeMissingPaymentIDs(ctx, log, orderID, update)
		return nil
	case err != nil:
		return fmt.Errorf("update order %s: %w", orderID, err)
	}

	result.PreviousStatus = res.PreviousStatus
	result.NewStatus = res.Order.Status
	result.StatusChanged = res.StatusChanged
	if !res.StatusChanged {
		log.Info("order already in target status", zap.String("status", string(res.Order.Status)))
		result.Skipped = SkipAlreadyApplied
		return nil
	}

	log.Info("order status updated",
		zap.String("from", string(res.PreviousStatus)),
		zap.String("to", string(res.Order.Status)),
	)
	p.count(ctx, statusMetric(res.Order.Status), nil)

	order := res.Order
	if full, err := p.deps.Orders.GetOrderWithItems(ctx, orderID); err != nil {
		log.Warn("failed to reload order items", zap.Error(err))
	} else if full != nil {
		order = full
	}

	p.runSideEffects(ctx, log, event, order, res.PreviousStatus, result)
	return nil
}

// storeMissingPaymentIDs keeps the Stripe ids carried by a rejected
// transition so later lookups by session or intent still find the order.
// Ids the order already has are left alone.
func (p *WebhookProcessor) storeMissingPaymentIDs(ctx context.Context, log *zap.Logger, orderID uuid.UUID, update models.PaymentInfoUpdate) {
	if update.CheckoutSessionID == nil && update.PaymentIntentID == nil {
		return
	}
	order, err := p.deps.Orders.GetOrderWithItems(ctx, orderID)
	if err != nil || order == nil {
		log.Warn("failed to load order for payment ids", zap.Error(err))
		return
	}

	var ids models.PaymentInfoUpdate
	if order.StripeCheckoutSessionID == nil {
		ids.CheckoutSessionID = update.CheckoutSessionID
	}
	if order.StripePaymentIntentID == nil {
		ids.PaymentIntentID = update.PaymentIntentID
	}
	if ids.CheckoutSessionID == nil && ids.PaymentIntentID == nil {
		return
	}
	if _, err := p.deps.Orders.UpdateOrderPaymentInfo(ctx, orderID, ids); err != nil {
		log.Warn("failed to store payment ids", zap.Error(err))
		return
	}
	log.Info("stored payment ids from rejected transition")
}

func (p *WebhookProcessor) runSideEffects(ctx context.Context, log *zap.Logger, event stripe.Event, order *models.Order, previous models.OrderStatus, result *ProcessResult) {
	run := func(kind models.SideEffectKind, detail string, fn func(context.Context) error) {
		p.runSideEffect(ctx, log, event.ID, order.ID, kind, detail, result, fn)
	}

	switch order.Status {
	case models.OrderStatusProcessing:
		if order.UserID != nil {
			run(models.SideEffectNotification, models.NotificationTypeOrderConfirmation, func(ctx context.Context) error {
				_, err := p.deps.Notifications.CreateNotification(ctx, models.NotificationInput{
					UserID:   *order.UserID,
					Type:     models.NotificationTypeOrderConfirmation,
					Title:    "Order confirmed",
					Message:  fmt.Sprintf("We received order %s and are confirming your payment.", order.OrderNumber),
					Link:     "/account/orders/" + order.ID.String(),
					Metadata: map[string]interface{}{"order_id": order.ID.String(), "order_number": order.OrderNumber},
				})
				return err
			})
		}
		run(models.SideEffectEmail, models.EmailCategoryOrderConfirmation, func(ctx context.Context) error {
			return p.deps.Notifications.SendOrderConfirmationEmail(ctx, order.UserID, OrderEmailDataFrom(order)).Err()
		})

	case models.OrderStatusCompleted:
		if order.UserID != nil {
			run(models.SideEffectNotification, models.NotificationTypePaymentReceived, func(ctx context.Context) error {
				_, err := p.deps.Notifications.CreateNotification(ctx, models.NotificationInput{
					UserID:   *order.UserID,
					Type:     models.NotificationTypePaymentReceived,
					Title:    "Payment received",
					Message:  fmt.Sprintf("Order %s is paid. Your purchases are in your library.", order.OrderNumber),
					Link:     "/account/library",
					Metadata: map[string]interface{}{"order_id": order.ID.String(), "amount": order.TotalAmount, "currency": order.Currency},
				})
				return err
			})
		}
		run(models.SideEffectLicenseIssuance, "order", func(ctx context.Context) error {
			licenses, err := p.deps.Licenses.CreateLicensesForOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			want := len(order.DistinctProductIDs())
			p.count(ctx, aws_pkg.MetricLicensesIssued, nil)
			if len(licenses) < want {
				return fmt.Errorf("%w: %d of %d products", ErrPartialLicenseIssuance, len(licenses), want)
			}
			return nil
		})

		var coupon *models.Coupon
		run(models.SideEffectCoupon, "bonus", func(ctx context.Context) error {
			c, err := p.deps.Coupons.IssueBonusCoupon(ctx, order)
			coupon = c
			return err
		})

		run(models.SideEffectEmail, models.EmailCategoryPaymentReceipt, func(ctx context.Context) error {
			data := OrderEmailDataFrom(order)
			if coupon != nil {
				data.CouponCode = coupon.Code
				data.CouponPercent = coupon.Value
				data.CouponExpiresAt = coupon.ExpiresAt
			}
			return p.deps.Notifications.SendPaymentReceiptEmail(ctx, order.UserID, data).Err()
		})

	case models.OrderStatusCancelled, models.OrderStatusRefunded:
		if order.Status == models.OrderStatusCancelled && order.CouponID != nil {
			run(models.SideEffectCoupon, "release", func(ctx context.Context) error {
				return p.deps.Coupons.ReleaseCoupon(ctx, order)
			})
		}
		if p.cfg.NotifyOnCancelRefund {
			run(models.SideEffectEmail, models.EmailCategoryOrderStatusUpdate, func(ctx context.Context) error {
				return p.deps.Notifications.SendOrderStatusUpdateEmail(ctx, order.UserID, OrderEmailDataFrom(order)).Err()
			})
		}
	}

	if p.deps.Publisher != nil {
		evt := models.NewOrderEvent(order, previous, event.ID, p.now())
		run(models.SideEffectEventPublish, evt.EventType, func(ctx context.Context) error {
			return p.deps.Publisher.PublishOrderEvent(ctx, evt)
		})
	}
}

// runSideEffect runs fn under its own timeout, records the outcome and
// persists failures for later reconciliation. Panics count as failures.
func (p *WebhookProcessor) runSideEffect(
	ctx context.Context,
	log *zap.Logger,
	eventID string,
	orderID uuid.UUID,
	kind models.SideEffectKind,
	detail string,
	result *ProcessResult,
	fn func(context.Context) error,
) {
	err := safeCall(ctx, fn)
	result.Outcomes = append(result.Outcomes, SideEffectOutcome{Kind: kind, Detail: detail, Err: err})
	if err == nil {
		return
	}

	log.Error("side effect failed",
		zap.String("kind", string(kind)),
		zap.String("detail", detail),
		zap.Error(err),
	)
	p.count(ctx, aws_pkg.MetricSideEffectFailures, map[string]string{"Kind": string(kind)})

	failure := &models.SideEffectFailure{
		OrderID: orderID,
		EventID: eventID,
		Kind:    kind,
		Detail:  detail,
		Error:   err.Error(),
	}
	recCtx, cancel := detached(ctx)
	defer cancel()
	if recErr := p.deps.Failures.Record(recCtx, failure); recErr != nil {
		log.Error("failed to record side effect failure", zap.String("kind", string(kind)), zap.Error(recErr))
	}
}

// detached returns a context that survives cancellation of ctx, for writes
// that follow a committed status change.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// safeCall runs fn with its own timeout. Cancelling ctx does not abort fn once
// the status change it belongs to has committed.
func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *WebhookProcessor) count(ctx context.Context, metric string, dimensions map[string]string) {
	if p.deps.Metrics == nil {
		return
	}
	if err := p.deps.Metrics.RecordCount(ctx, metric, dimensions); err != nil {
		p.logger.Debug("metric not recorded", zap.String("metric", metric), zap.Error(err))
	}
}

func statusMetric(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusProcessing:
		return aws_pkg.MetricOrdersProcessing
	case models.OrderStatusCompleted:
		return aws_pkg.MetricOrdersCompleted
	case models.OrderStatusCancelled:
		return aws_pkg.MetricOrdersCancelled
	default:
		return aws_pkg.MetricOrdersRefunded
	}
}

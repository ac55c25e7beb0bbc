package services

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// MaxWebhookBodyBytes caps the webhook payload read from the request.
const MaxWebhookBodyBytes = 64 << 10

// CheckoutLine is one Stripe Checkout line item.
type CheckoutLine struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

type CheckoutSessionRequest struct {
	OrderID       string
	OrderNumber   string
	UserID        string
	CustomerEmail string
	Currency      string
	Lines         []CheckoutLine
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// PaymentGateway is the subset of the payments platform the storefront uses.
type PaymentGateway interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
	ConstructEvent(payload []byte, signature string) (stripe.Event, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	CreateRefund(ctx context.Context, paymentIntentID, orderID string) (string, error)
}

type StripeService struct {
	api        *client.API
	webhookKey string
}

func NewStripeService(secretKey, webhookKey string) *StripeService {
	return &StripeService{
		api:        client.New(secretKey, nil),
		webhookKey: webhookKey,
	}
}

// ParseWebhook reads at most MaxWebhookBodyBytes of the request body and
// verifies its Stripe-Signature header.
func (s *StripeService) ParseWebhook(r *http.Request) (stripe.Event, error) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodyBytes+1))
	if err != nil {
		return stripe.Event{}, fmt.Errorf("read webhook body: %w", err)
	}
	if len(payload) > MaxWebhookBodyBytes {
		return stripe.Event{}, fmt.Errorf("webhook body exceeds %d bytes", MaxWebhookBodyBytes)
	}
	return s.ConstructEvent(payload, r.Header.Get("Stripe-Signature"))
}

func (s *StripeService) ConstructEvent(payload []byte, signature string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, s.webhookKey, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	metadata := map[string]string{
		"order_id":     req.OrderID,
		"order_number": req.OrderNumber,
	}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		CustomerEmail:     stripe.String(req.CustomerEmail),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(line.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
			Quantity: stripe.Int64(line.Quantity),
		})
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.OrderID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeService) CreateRefund(ctx context.Context, paymentIntentID, orderID string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata("order_id", orderID)
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + orderID)

	refund, err := s.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return refund.ID, nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/models"
	aws_pkg "github.com/lenmanean/logbloga/pkg/aws"
	"github.com/lenmanean/logbloga/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type CheckoutItem struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1,max=100"`
}

type CheckoutRequest struct {
	Items         []CheckoutItem `json:"items" binding:"required,min=1,dive"`
	CustomerEmail string         `json:"customer_email" binding:"required,email"`
	CustomerName  string         `json:"customer_name"`
	CouponCode    string         `json:"coupon_code"`
}

type CheckoutResult struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CheckoutURL string    `json:"checkout_url"`
}

type OrderConfig struct {
	AppBaseURL     string
	DownloadKeyTTL time.Duration
}

// OrderService creates orders and serves them back to their owners. It never
// changes an existing order's status; that is left to webhook processing.
type OrderService interface {
	CreateOrder(ctx context.Context, userID *uuid.UUID, req CheckoutRequest) (*models.Order, error)
	StartCheckout(ctx context.Context, userID *uuid.UUID, req CheckoutRequest) (*CheckoutResult, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error)
	RefundOrder(ctx context.Context, orderID uuid.UUID) (string, error)
}

type orderServiceImpl struct {
	orders   repository.OrderRepository
	products repository.ProductRepository
	coupons  repository.CouponRepository
	gateway  PaymentGateway
	metrics  MetricsRecorder
	cfg      OrderConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrderService(
	orders repository.OrderRepository,
	products repository.ProductRepository,
	coupons repository.CouponRepository,
	gateway PaymentGateway,
	metrics MetricsRecorder,
	cfg OrderConfig,
	logger *zap.Logger,
) OrderService {
	return &orderServiceImpl{
		orders:   orders,
		products: products,
		coupons:  coupons,
		gateway:  gateway,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func newOrderNumber(now time.Time) (string, error) {
	suffix, err := randomChars(6)
	if err != nil {
		return "", err
	}
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix, nil
}

// CreateOrder validates the requested items against the active catalog,
// snapshots product data onto the items and stores a pending order.
func (s *orderServiceImpl) CreateOrder(ctx context.Context, userID *uuid.UUID, req CheckoutRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, apperrors.BadRequest("Order has no items")
	}

	ids := lo.Uniq(lo.Map(req.Items, func(item CheckoutItem, _ int) uuid.UUID { return item.ProductID }))
	products, err := s.products.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("load products: %w", err))
	}
	byID := lo.KeyBy(products, func(p models.Product) uuid.UUID { return p.ID })

	now := s.now()
	var currencyCode string
	var subtotal int64
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, reqItem := range req.Items {
		product, ok := byID[reqItem.ProductID]
		if !ok {
			return nil, apperrors.BadRequest(fmt.Sprintf("Product %s is not available", reqItem.ProductID))
		}
		if currencyCode == "" {
			currencyCode = strings.ToLower(product.Currency)
		} else if !strings.EqualFold(currencyCode, product.Currency) {
			return nil, apperrors.BadRequest("All products in an order must share one currency")
		}

		total := product.PriceAmount * int64(reqItem.Quantity)
		subtotal += total
		items = append(items, models.OrderItem{
			ProductID:         product.ID,
			ProductName:       product.Name,
			ProductSKU:        product.SKU,
			Quantity:          reqItem.Quantity,
			UnitPrice:         product.PriceAmount,
			TotalPrice:        total,
			DownloadKey:       strings.ReplaceAll(uuid.NewString(), "-", ""),
			DownloadExpiresAt: now.Add(s.cfg.DownloadKeyTTL),
		})
	}
	if _, err := parseCurrency(currencyCode); err != nil {
		return nil, apperrors.New(http.StatusBadRequest, "Unsupported currency", err)
	}

	orderNumber, err := newOrderNumber(now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	order := &models.Order{
		UserID:        userID,
		OrderNumber:   orderNumber,
		Status:        models.OrderStatusPending,
		Currency:      currencyCode,
		Subtotal:      subtotal,
		TotalAmount:   subtotal,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerName:  strings.TrimSpace(req.CustomerName),
		Items:         items,
	}

	var coupon *models.Coupon
	if req.CouponCode != "" {
		var discount int64
		coupon, discount, err = s.priceCoupon(ctx, req.CouponCode, subtotal, now)
		if err != nil {
			return nil, err
		}
		order.CouponID = &coupon.ID
		order.DiscountAmount = &discount
		order.TotalAmount = order.ExpectedTotal()
	}

	if err := order.ValidateTotals(); err != nil {
		return nil, apperrors.New(http.StatusBadRequest, "Order totals do not balance", err)
	}

	if coupon != nil {
		if err := s.coupons.IncrementUsage(ctx, coupon.ID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.BadRequest("Coupon is not valid")
			}
			return nil, apperrors.Internal(fmt.Errorf("redeem coupon: %w", err))
		}
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.releaseCoupon(ctx, order)
		return nil, apperrors.Internal(fmt.Errorf("create order: %w", err))
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.TotalAmount),
	)
	if s.metrics != nil {
		_ = s.metrics.RecordCount(ctx, aws_pkg.MetricOrdersCreated, nil)
	}
	return order, nil
}

// priceCoupon checks that code can be redeemed at now and returns the
// discount it grants on subtotal. It does not consume a use.
func (s *orderServiceImpl) priceCoupon(ctx context.Context, code string, subtotal int64, now time.Time) (*models.Coupon, int64, error) {
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return nil, 0, apperrors.Internal(fmt.Errorf("find coupon: %w", err))
	}
	if coupon == nil || !coupon.Redeemable(now) {
		return nil, 0, apperrors.BadRequest("Coupon is not valid")
	}

	var discount int64
	switch coupon.Type {
	case models.CouponTypePercentage:
		discount = percentOf(subtotal, coupon.Value)
	case models.CouponTypeFlat:
		discount = int64(coupon.Value)
	}
	return coupon, min(discount, subtotal), nil
}

// releaseCoupon gives back the coupon use held by an order that will never
// be paid.
func (s *orderServiceImpl) releaseCoupon(ctx context.Context, order *models.Order) {
	if order.CouponID == nil {
		return
	}
	if err := s.coupons.ReleaseUsage(context.WithoutCancel(ctx), *order.CouponID); err != nil {
		s.logger.Error("failed to release coupon",
			zap.String("order_id", order.ID.String()),
			zap.String("coupon_id", order.CouponID.String()),
			zap.Error(err),
		)
	}
}

// StartCheckout creates the order and opens a Stripe Checkout Session for it.
// A gateway failure leaves the order pending and unpaid and gives back its
// coupon.
func (s *orderServiceImpl) StartCheckout(ctx context.Context, userID *uuid.UUID, req CheckoutRequest) (*CheckoutResult, error) {
	order, err := s.CreateOrder(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	sessionReq := CheckoutSessionRequest{
		OrderID:       order.ID.String(),
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		Currency:      order.Currency,
		SuccessURL:    fmt.Sprintf("%s/checkout/success?order_id=%s", s.cfg.AppBaseURL, order.ID),
		CancelURL:     fmt.Sprintf("%s/checkout/cancel?order_id=%s", s.cfg.AppBaseURL, order.ID),
	}
	if userID != nil {
		sessionReq.UserID = userID.String()
	}
	if order.DiscountAmount != nil && *order.DiscountAmount > 0 {
		// Stripe line items cannot carry a discount, so charge the order total
		// as one line.
		sessionReq.Lines = []CheckoutLine{{
			Name:       "Order " + order.OrderNumber,
			UnitAmount: order.TotalAmount,
			Quantity:   1,
		}}
	} else {
		sessionReq.Lines = lo.Map(order.Items, func(item models.OrderItem, _ int) CheckoutLine {
			return CheckoutLine{Name: item.ProductName, UnitAmount: item.UnitPrice, Quantity: int64(item.Quantity)}
		})
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, sessionReq)
	if err != nil {
		s.logger.Error("checkout session creation failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		s.releaseCoupon(ctx, order)
		return nil, apperrors.Unavailable("Payment provider unavailable", err)
	}

	if _, err := s.orders.UpdateOrderPaymentInfo(ctx, order.ID, models.PaymentInfoUpdate{
		CheckoutSessionID: &sess.ID,
	}); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("store checkout session: %w", err))
	}

	return &CheckoutResult{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CheckoutURL: sess.URL,
	}, nil
}

// GetOrder returns the order when userID owns it; anything else is NotFound.
func (s *orderServiceImpl) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.GetOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if order == nil || order.UserID == nil || *order.UserID != userID {
		return nil, apperrors.NotFound("Order not found")
	}
	return order, nil
}

func (s *orderServiceImpl) ListOrders(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Order, int64, error) {
	orders, total, err := s.orders.ListOrdersForUser(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, apperrors.Internal(err)
	}
	return orders, total, nil
}

// RefundOrder asks Stripe to refund a completed order. The order moves to
// refunded when the charge.refunded event arrives.
func (s *orderServiceImpl) RefundOrder(ctx context.Context, orderID uuid.UUID) (string, error) {
	order, err := s.orders.GetOrderWithItems(ctx, orderID)
	if err != nil {
		return "", apperrors.Internal(err)
	}
	if order == nil {
		return "", apperrors.NotFound("Order not found")
	}
	if order.Status != models.OrderStatusCompleted || order.StripePaymentIntentID == nil {
		return "", apperrors.Conflict(fmt.Sprintf("Order in status %s cannot be refunded", order.Status))
	}

	refundID, err := s.gateway.CreateRefund(ctx, *order.StripePaymentIntentID, order.ID.String())
	if err != nil {
		s.logger.Error("refund failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		return "", apperrors.Unavailable("Payment provider unavailable", err)
	}
	s.logger.Info("refund requested", zap.String("order_id", order.ID.String()), zap.String("refund_id", refundID))
	return refundID, nil
}

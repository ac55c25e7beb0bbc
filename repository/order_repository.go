package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository is the order store. Status and the Stripe ids are only
// ever changed through UpdateOrderPaymentInfo.
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	// GetOrderWithItems returns nil, nil when the order does not exist.
	GetOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindOrderByPaymentIntentID returns nil, nil when no order carries the intent.
	FindOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error)
	FindOrderByCheckoutSessionID(ctx context.Context, sessionID string) (*models.Order, error)
	UpdateOrderPaymentInfo(ctx context.Context, id uuid.UUID, update models.PaymentInfoUpdate) (*models.TransitionResult, error)
	ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error)
	FindItemByDownloadKey(ctx context.Context, key string) (*models.OrderItem, error)
	IncrementDownloadCount(ctx context.Context, itemID uuid.UUID) error
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db, now: time.Now}
}

// CreateOrder inserts the order and its items in one transaction.
func (r *GormOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			if _, dup := uniqueViolation(err); dup {
				return fmt.Errorf("%w: %v", ErrDuplicate, err)
			}
			return err
		}
		return nil
	})
}

func (r *GormOrderRepository) GetOrderWithItems(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindOrderByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	if paymentIntentID == "" {
		return nil, nil
	}
	return r.findOne(ctx, "stripe_payment_intent_id = ?", paymentIntentID)
}

func (r *GormOrderRepository) FindOrderByCheckoutSessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	return r.findOne(ctx, "stripe_checkout_session_id = ?", sessionID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where(query, args...).
		First(&order).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderPaymentInfo locks the order row, checks the requested status
// against the lifecycle and applies the update. A request for the current
// status only fills in ids and reports StatusChanged=false. Disallowed moves
// return models.ErrInvalidTransition and write nothing.
func (r *GormOrderRepository) UpdateOrderPaymentInfo(ctx context.Context, id uuid.UUID, update models.PaymentInfoUpdate) (*models.TransitionResult, error) {
	var result models.TransitionResult

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&order).Error
		if isNotFound(err) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}

		result.PreviousStatus = order.Status
		updates := map[string]interface{}{}

		if update.Status != "" && update.Status != order.Status {
			if err := order.Status.ValidateTransition(update.Status); err != nil {
				return err
			}
			now := r.now()
			updates["status"] = update.Status
			order.Status = update.Status
			switch update.Status {
			case models.OrderStatusCompleted:
				updates["completed_at"] = now
				order.CompletedAt = &now
			case models.OrderStatusCancelled:
				updates["cancelled_at"] = now
				order.CancelledAt = &now
			case models.OrderStatusRefunded:
				updates["refunded_at"] = now
				order.RefundedAt = &now
			}
			result.StatusChanged = true
		}
		if update.CheckoutSessionID != nil && stringValue(order.StripeCheckoutSessionID) != *update.CheckoutSessionID {
			updates["stripe_checkout_session_id"] = *update.CheckoutSessionID
			order.StripeCheckoutSessionID = update.CheckoutSessionID
		}
		if update.PaymentIntentID != nil && stringValue(order.StripePaymentIntentID) != *update.PaymentIntentID {
			updates["stripe_payment_intent_id"] = *update.PaymentIntentID
			order.StripePaymentIntentID = update.PaymentIntentID
		}

		if len(updates) > 0 {
			if err := tx.Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return err
			}
		}
		result.Order = &order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListOrdersForUser returns a page of the user's orders, newest first.
func (r *GormOrderRepository) ListOrdersForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// FindItemByDownloadKey returns nil, nil for an unknown key.
func (r *GormOrderRepository) FindItemByDownloadKey(ctx context.Context, key string) (*models.OrderItem, error) {
	var item models.OrderItem
	err := r.db.WithContext(ctx).Where("download_key = ?", key).First(&item).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *GormOrderRepository) IncrementDownloadCount(ctx context.Context, itemID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		UpdateColumn("downloads_count", gorm.Expr("downloads_count + 1")).
		Error
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var ErrInvalidTotals = errors.New("order totals do not balance")

// Order is one checkout attempt. Amounts are in the currency's minor unit.
type Order struct {
	ID          uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID      *uuid.UUID  `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OrderNumber string      `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_number"`
	Status      OrderStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Currency    string      `gorm:"type:char(3);not null" json:"currency"`

	Subtotal       int64  `gorm:"not null" json:"subtotal"`
	TaxAmount      *int64 `json:"tax_amount,omitempty"`
	DiscountAmount *int64 `json:"discount_amount,omitempty"`
	TotalAmount    int64  `gorm:"not null" json:"total_amount"`

	// CouponID is the checkout coupon whose use this order holds.
	CouponID *uuid.UUID `gorm:"type:uuid;index" json:"coupon_id,omitempty"`

	CustomerEmail string `gorm:"type:varchar(320);not null" json:"customer_email"`
	CustomerName  string `gorm:"type:varchar(255)" json:"customer_name,omitempty"`

	StripeCheckoutSessionID *string `gorm:"type:varchar(255);uniqueIndex" json:"stripe_checkout_session_id,omitempty"`
	StripePaymentIntentID   *string `gorm:"type:varchar(255);uniqueIndex" json:"stripe_payment_intent_id,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	RefundedAt  *time.Time `json:"refunded_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"items,omitempty"`
}

// OrderItem is one line of an order. Product name and SKU are snapshots taken
// at purchase time.
type OrderItem struct {
	ID                uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID           uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID         uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductName       string    `gorm:"type:varchar(255);not null" json:"product_name"`
	ProductSKU        string    `gorm:"type:varchar(64)" json:"product_sku,omitempty"`
	Quantity          int       `gorm:"not null;check:quantity > 0" json:"quantity"`
	UnitPrice         int64     `gorm:"not null" json:"unit_price"`
	TotalPrice        int64     `gorm:"not null" json:"total_price"`
	DownloadKey       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	DownloadExpiresAt time.Time `gorm:"not null" json:"download_expires_at"`
	DownloadsCount    int       `gorm:"not null;default:0" json:"downloads_count"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DownloadExpired reports whether the item's download key is no longer usable.
func (i OrderItem) DownloadExpired(now time.Time) bool {
	return !now.Before(i.DownloadExpiresAt)
}

// ExpectedTotal returns subtotal - discount + tax.
func (o *Order) ExpectedTotal() int64 {
	total := o.Subtotal
	if o.DiscountAmount != nil {
		total -= *o.DiscountAmount
	}
	if o.TaxAmount != nil {
		total += *o.TaxAmount
	}
	return total
}

// ValidateTotals checks the amounts are non-negative, the discount does not
// exceed the subtotal, the subtotal equals the sum of the items (when loaded)
// and total = subtotal - discount + tax.
func (o *Order) ValidateTotals() error {
	if o.Subtotal < 0 || o.TotalAmount < 0 {
		return ErrInvalidTotals
	}
	if o.DiscountAmount != nil && (*o.DiscountAmount < 0 || *o.DiscountAmount > o.Subtotal) {
		return ErrInvalidTotals
	}
	if o.TaxAmount != nil && *o.TaxAmount < 0 {
		return ErrInvalidTotals
	}
	if len(o.Items) > 0 {
		var sum int64
		for _, item := range o.Items {
			if item.TotalPrice != item.UnitPrice*int64(item.Quantity) {
				return ErrInvalidTotals
			}
			sum += item.TotalPrice
		}
		if sum != o.Subtotal {
			return ErrInvalidTotals
		}
	}
	if o.TotalAmount != o.ExpectedTotal() {
		return ErrInvalidTotals
	}
	return nil
}

// DistinctProductIDs returns the product ids on the order, first occurrence order.
func (o *Order) DistinctProductIDs() []uuid.UUID {
	return lo.Uniq(lo.Map(o.Items, func(item OrderItem, _ int) uuid.UUID {
		return item.ProductID
	}))
}

// PaymentInfoUpdate is the only mutation applied to an existing order.
// Nil ids are left untouched; an empty Status leaves the status untouched.
type PaymentInfoUpdate struct {
	CheckoutSessionID *string
	PaymentIntentID   *string
	Status            OrderStatus
}

// TransitionResult describes the effect of a PaymentInfoUpdate.
type TransitionResult struct {
	Order          *Order
	PreviousStatus OrderStatus
	StatusChanged  bool
}

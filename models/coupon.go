package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponType represents the type of discount a coupon provides.
type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFlat       CouponType = "flat"
)

// Coupon is a discount code. Bonus coupons carry the order that earned them;
// at most one coupon exists per source order.
type Coupon struct {
	ID            uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	Type          CouponType `gorm:"type:varchar(20);not null" json:"type"`
	Value         float64    `gorm:"not null" json:"value"`
	UsageLimit    int        `gorm:"not null;default:0" json:"usage_limit"` // 0 = unlimited
	UsedCount     int        `gorm:"not null;default:0" json:"used_count"`
	ExpiresAt     time.Time  `gorm:"not null" json:"expires_at"`
	Active        bool       `gorm:"not null;default:true" json:"active"`
	SourceOrderID *uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"source_order_id,omitempty"`
	UserID        *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Redeemable reports whether the coupon can still be applied at now.
func (c Coupon) Redeemable(now time.Time) bool {
	if !c.Active || !now.Before(c.ExpiresAt) {
		return false
	}
	return c.UsageLimit == 0 || c.UsedCount < c.UsageLimit
}

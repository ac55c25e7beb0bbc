package models

import (
	"time"

	"github.com/google/uuid"
)

// SideEffectKind names a best-effort action attached to an order transition.
type SideEffectKind string

const (
	SideEffectNotification    SideEffectKind = "notification"
	SideEffectEmail           SideEffectKind = "email"
	SideEffectLicenseIssuance SideEffectKind = "license_issuance"
	SideEffectCoupon          SideEffectKind = "coupon"
	SideEffectEventPublish    SideEffectKind = "event_publish"
)

// SideEffectFailure is an unreconciled side effect: the order transition
// happened but the attached action did not.
type SideEffectFailure struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"order_id"`
	EventID    string         `gorm:"type:varchar(255);index" json:"event_id,omitempty"`
	Kind       SideEffectKind `gorm:"type:varchar(32);not null" json:"kind"`
	Detail     string         `gorm:"type:varchar(255)" json:"detail,omitempty"`
	Error      string         `gorm:"type:text;not null" json:"error"`
	ResolvedAt *time.Time     `gorm:"index" json:"resolved_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

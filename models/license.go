package models

import (
	"time"

	"github.com/google/uuid"
)

type LicenseStatus string

const (
	LicenseStatusActive   LicenseStatus = "active"
	LicenseStatusInactive LicenseStatus = "inactive"
	LicenseStatusRevoked  LicenseStatus = "revoked"
)

// License is a durable access grant to a product. At most one license exists
// per (order, product).
type License struct {
	ID              uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID         uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_licenses_order_product,priority:1" json:"order_id"`
	ProductID       uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_licenses_order_product,priority:2;index:idx_licenses_user_product,priority:2" json:"product_id"`
	UserID          uuid.UUID     `gorm:"type:uuid;not null;index:idx_licenses_user_product,priority:1" json:"user_id"`
	LicenseKey      string        `gorm:"type:varchar(32);uniqueIndex;not null" json:"license_key"`
	Status          LicenseStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	LifetimeAccess  bool          `gorm:"not null;default:true" json:"lifetime_access"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	AccessGrantedAt time.Time     `gorm:"not null" json:"access_granted_at"`
	ActivatedAt     *time.Time    `json:"activated_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// GrantsAccess reports whether the license is active and either lifetime or
// not yet expired at now.
func (l License) GrantsAccess(now time.Time) bool {
	if l.Status != LicenseStatusActive {
		return false
	}
	if l.LifetimeAccess {
		return true
	}
	return l.ExpiresAt != nil && l.ExpiresAt.After(now)
}

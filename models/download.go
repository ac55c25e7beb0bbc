package models

import (
	"time"

	"github.com/google/uuid"
)

// DownloadLog is the audit row written for every issued download URL.
type DownloadLog struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"order_item_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	IPAddress   string    `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent   string    `gorm:"type:varchar(512)" json:"user_agent,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

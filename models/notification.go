package models

import (
	"time"

	"github.com/google/uuid"
)

// In-app notification types.
const (
	NotificationTypeOrderConfirmation = "order_confirmation"
	NotificationTypePaymentReceived   = "payment_received"
	NotificationTypeOrderStatusUpdate = "order_status_update"
)

// Email categories, used for preference checks and provider tags.
const (
	EmailCategoryOrderConfirmation = "order_confirmation"
	EmailCategoryPaymentReceipt    = "payment_receipt"
	EmailCategoryOrderStatusUpdate = "order_status_update"
)

// Delivery channels and statuses recorded in notification_logs.
const (
	ChannelEmail = "email"

	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Notification is an in-app alert shown in the account area.
type Notification struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_notifications_user_created,priority:1" json:"user_id"`
	Type      string    `gorm:"type:varchar(50);not null" json:"type"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	Message   string    `gorm:"type:text" json:"message"`
	Link      string    `gorm:"type:varchar(512)" json:"link,omitempty"`
	Metadata  *string   `gorm:"type:jsonb" json:"metadata,omitempty"`
	IsRead    bool      `gorm:"not null;default:false" json:"is_read"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_notifications_user_created,priority:2,sort:desc" json:"created_at"`
}

// NotificationInput is the payload for creating an in-app notification.
type NotificationInput struct {
	UserID   uuid.UUID
	Type     string
	Title    string
	Message  string
	Link     string
	Metadata map[string]interface{}
}

// NotificationLog records every email delivery attempt.
type NotificationLog struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	OrderID   *uuid.UUID `gorm:"type:uuid;index" json:"order_id,omitempty"`
	Recipient string     `gorm:"type:varchar(320);not null" json:"recipient"`
	Type      string     `gorm:"type:varchar(50);not null" json:"type"`
	Channel   string     `gorm:"type:varchar(20);not null" json:"channel"`
	Status    string     `gorm:"type:varchar(20);not null" json:"status"`
	MessageID string     `gorm:"type:varchar(255)" json:"message_id,omitempty"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// NotificationPreference holds a user's opt-outs. A missing row means every
// category is enabled.
type NotificationPreference struct {
	UserID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	EmailNotifications bool      `gorm:"not null;default:true" json:"email_notifications"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

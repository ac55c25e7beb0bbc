package models

import "time"

const ProviderStripe = "stripe"

// WebhookEvent is the ledger row for one provider event id. ProcessedAt is
// set once the event has been fully handled; until then redeliveries are
// processed again.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     *string    `gorm:"type:jsonb" json:"-"`
	Attempts        int        `gorm:"not null;default:1" json:"attempts"`
	ProcessedAt     *time.Time `gorm:"index" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

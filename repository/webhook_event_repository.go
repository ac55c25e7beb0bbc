package repository

import (
	"context"
	"time"

	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the processed-event ledger.
type WebhookEventRepository interface {
	// Begin records delivery of an event and reports whether it still needs
	// processing (false once a previous delivery was marked processed).
	Begin(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	// MarkProcessed closes the ledger row. A non-nil procErr is stored and
	// leaves the event open for the next delivery.
	MarkProcessed(ctx context.Context, provider, eventID string, procErr error) error
}

type GormWebhookEventRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &GormWebhookEventRepository{db: db, now: time.Now}
}

func (r *GormWebhookEventRepository) Begin(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	evt := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       eventType,
		Attempts:        1,
	}
	if len(payload) > 0 {
		p := string(payload)
		evt.PayloadJSON = &p
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts":   gorm.Expr("webhook_events.attempts + 1"),
			"updated_at": r.now(),
		}),
	}).Create(&evt).Error
	if err != nil {
		return false, err
	}

	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Select("id", "processed_at").
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		First(&stored).Error; err != nil {
		return false, err
	}
	return stored.ProcessedAt == nil, nil
}

func (r *GormWebhookEventRepository) MarkProcessed(ctx context.Context, provider, eventID string, procErr error) error {
	updates := map[string]interface{}{"processing_error": ""}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	} else {
		updates["processed_at"] = r.now()
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Updates(updates).Error
}

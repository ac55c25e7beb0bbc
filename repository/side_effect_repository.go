package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
)

// SideEffectRepository stores unreconciled side effects for later retry.
type SideEffectRepository interface {
	Record(ctx context.Context, failure *models.SideEffectFailure) error
	ListUnresolved(ctx context.Context, limit int) ([]models.SideEffectFailure, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}

type GormSideEffectRepository struct {
	db *gorm.DB
}

func NewGormSideEffectRepository(db *gorm.DB) SideEffectRepository {
	return &GormSideEffectRepository{db: db}
}

func (r *GormSideEffectRepository) Record(ctx context.Context, failure *models.SideEffectFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

func (r *GormSideEffectRepository) ListUnresolved(ctx context.Context, limit int) ([]models.SideEffectFailure, error) {
	var failures []models.SideEffectFailure
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&failures).Error
	return failures, err
}

func (r *GormSideEffectRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.SideEffectFailure{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

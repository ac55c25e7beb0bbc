package repository

import (
	"context"

	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
)

type DownloadLogRepository interface {
	Create(ctx context.Context, entry *models.DownloadLog) error
}

type GormDownloadLogRepository struct {
	db *gorm.DB
}

func NewGormDownloadLogRepository(db *gorm.DB) DownloadLogRepository {
	return &GormDownloadLogRepository{db: db}
}

func (r *GormDownloadLogRepository) Create(ctx context.Context, entry *models.DownloadLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/cache"
	"github.com/lenmanean/logbloga/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProductRepository interface {
	// FindByID returns the product whatever its active flag, or nil, nil.
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	// FindActiveByIDs returns the active products among ids.
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) ProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *GormProductRepository) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.WithContext(ctx).
		Where("id IN ? AND active = ?", ids, true).
		Find(&products).Error
	return products, err
}

const productCachePrefix = "product:"

// CachedProductRepository serves FindByID from a cache in front of another
// ProductRepository. Cache errors degrade to a direct lookup.
type CachedProductRepository struct {
	inner  ProductRepository
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedProductRepository(inner ProductRepository, c cache.Cache, ttl time.Duration, logger *zap.Logger) ProductRepository {
	return &CachedProductRepository{inner: inner, cache: c, ttl: ttl, logger: logger}
}

func (r *CachedProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	key := productCachePrefix + id.String()

	var cached models.Product
	err := cache.GetJSON(ctx, r.cache, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("product cache read failed", zap.String("product_id", id.String()), zap.Error(err))
	}

	product, err := r.inner.FindByID(ctx, id)
	if err != nil || product == nil {
		return product, err
	}
	if err := cache.SetJSON(ctx, r.cache, key, product, r.ttl); err != nil {
		r.logger.Warn("product cache write failed", zap.String("product_id", id.String()), zap.Error(err))
	}
	return product, nil
}

// FindActiveByIDs always reads through; purchases must see the live active flag.
func (r *CachedProductRepository) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	return r.inner.FindActiveByIDs(ctx, ids)
}

package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
)

type CouponRepository interface {
	// Create returns ErrDuplicate when the code or the source order is taken.
	Create(ctx context.Context, coupon *models.Coupon) error
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindBySourceOrder(ctx context.Context, orderID uuid.UUID) (*models.Coupon, error)
	// IncrementUsage consumes one use of the coupon. It returns ErrNotFound
	// when the coupon is unknown or already used up.
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	// ReleaseUsage gives back one use. It returns ErrNotFound when the coupon
	// is unknown or has no recorded use.
	ReleaseUsage(ctx context.Context, id uuid.UUID) error
}

type GormCouponRepository struct {
	db *gorm.DB
}

func NewGormCouponRepository(db *gorm.DB) CouponRepository {
	return &GormCouponRepository{db: db}
}

func (r *GormCouponRepository) Create(ctx context.Context, coupon *models.Coupon) error {
	err := r.db.WithContext(ctx).Create(coupon).Error
	if _, dup := uniqueViolation(err); dup {
		return ErrDuplicate
	}
	return err
}

// FindByCode looks a coupon up case-insensitively. Returns nil, nil when absent.
func (r *GormCouponRepository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return r.findOne(ctx, "LOWER(code) = ?", strings.ToLower(strings.TrimSpace(code)))
}

func (r *GormCouponRepository) FindBySourceOrder(ctx context.Context, orderID uuid.UUID) (*models.Coupon, error) {
	return r.findOne(ctx, "source_order_id = ?", orderID)
}

func (r *GormCouponRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND (usage_limit = 0 OR used_count < usage_limit)", id).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormCouponRepository) ReleaseUsage(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&models.Coupon{}).
		Where("id = ? AND used_count > 0", id).
		UpdateColumn("used_count", gorm.Expr("used_count - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormCouponRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Where(query, args...).First(&coupon).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

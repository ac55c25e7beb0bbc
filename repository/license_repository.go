package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateLicenseKey means the generated key was taken between the
	// existence check and the insert.
	ErrDuplicateLicenseKey = errors.New("license key already exists")
	// ErrLicenseExists means the (order, product) pair already has a license.
	ErrLicenseExists = errors.New("license already exists for order and product")
)

const orderProductIndex = "idx_licenses_order_product"

type LicenseRepository interface {
	Create(ctx context.Context, license *models.License) error
	LicenseKeyExists(ctx context.Context, key string) (bool, error)
	FindByKey(ctx context.Context, key string) (*models.License, error)
	FindByOrderAndProduct(ctx context.Context, orderID, productID uuid.UUID) (*models.License, error)
	FindByUserAndProduct(ctx context.Context, userID, productID uuid.UUID) ([]models.License, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.License, error)
}

type GormLicenseRepository struct {
	db *gorm.DB
}

func NewGormLicenseRepository(db *gorm.DB) LicenseRepository {
	return &GormLicenseRepository{db: db}
}

// Create inserts license. Unique violations are reported as
// ErrLicenseExists or ErrDuplicateLicenseKey depending on the constraint.
func (r *GormLicenseRepository) Create(ctx context.Context, license *models.License) error {
	err := r.db.WithContext(ctx).Create(license).Error
	if constraint, dup := uniqueViolation(err); dup {
		if strings.Contains(constraint, orderProductIndex) {
			return ErrLicenseExists
		}
		return fmt.Errorf("%w: %s", ErrDuplicateLicenseKey, constraint)
	}
	return err
}

func (r *GormLicenseRepository) LicenseKeyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.License{}).
		Where("license_key = ?", key).
		Count(&count).Error
	return count > 0, err
}

func (r *GormLicenseRepository) FindByKey(ctx context.Context, key string) (*models.License, error) {
	return r.findOne(ctx, "license_key = ?", key)
}

func (r *GormLicenseRepository) FindByOrderAndProduct(ctx context.Context, orderID, productID uuid.UUID) (*models.License, error) {
	return r.findOne(ctx, "order_id = ? AND product_id = ?", orderID, productID)
}

func (r *GormLicenseRepository) FindByUserAndProduct(ctx context.Context, userID, productID uuid.UUID) ([]models.License, error) {
	var licenses []models.License
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND product_id = ?", userID, productID).
		Find(&licenses).Error
	return licenses, err
}

func (r *GormLicenseRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.License, error) {
	var licenses []models.License
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&licenses).Error
	return licenses, err
}

func (r *GormLicenseRepository) findOne(ctx context.Context, query string, args ...interface{}) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).Where(query, args...).First(&license).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

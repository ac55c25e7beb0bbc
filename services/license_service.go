package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	licenseKeyGroups      = 4
	licenseKeyGroupLen    = 4
	maxLicenseKeyAttempts = 10
)

var licenseKeyPattern = regexp.MustCompile(`^[2-9A-HJ-NP-Z]{4}(-[2-9A-HJ-NP-Z]{4}){3}$`)

// ValidateLicenseKey reports whether key has the XXXX-XXXX-XXXX-XXXX shape
// over the unambiguous alphabet. Callers normalize first.
func ValidateLicenseKey(key string) bool {
	return licenseKeyPattern.MatchString(key)
}

// NormalizeLicenseKey trims and upper-cases a user supplied key.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func randomLicenseKey() (string, error) {
	raw, err := randomChars(licenseKeyGroups * licenseKeyGroupLen)
	if err != nil {
		return "", err
	}
	groups := lo.ChunkString(raw, licenseKeyGroupLen)
	return strings.Join(groups, "-"), nil
}

// LicenseService issues and answers questions about product licenses.
type LicenseService interface {
	GenerateLicenseKey(ctx context.Context) (string, error)
	CreateLicense(ctx context.Context, orderID, userID, productID uuid.UUID) (*models.License, error)
	// CreateLicensesForOrder issues one license per distinct product on the
	// order. Per-product failures are logged and left out of the result.
	CreateLicensesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.License, error)
	UserHasActiveLicense(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	GetLicenseByKey(ctx context.Context, userID uuid.UUID, key string) (*models.License, error)
	ListUserLicenses(ctx context.Context, userID uuid.UUID) ([]models.License, error)
}

type licenseServiceImpl struct {
	licenses repository.LicenseRepository
	orders   repository.OrderRepository
	products repository.ProductRepository
	logger   *zap.Logger
	newKey   func() (string, error)
	now      func() time.Time
}

func NewLicenseService(
	licenses repository.LicenseRepository,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	logger *zap.Logger,
) LicenseService {
	return &licenseServiceImpl{
		licenses: licenses,
		orders:   orders,
		products: products,
		logger:   logger,
		newKey:   randomLicenseKey,
		now:      time.Now,
	}
}

// GenerateLicenseKey returns a key no stored license uses, trying at most
// maxLicenseKeyAttempts candidates.
func (s *licenseServiceImpl) GenerateLicenseKey(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxLicenseKeyAttempts; attempt++ {
		key, ok, err := s.candidateKey(ctx, attempt)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", ErrLicenseKeyExhausted
}

// candidateKey draws one key and reports whether no stored license uses it.
func (s *licenseServiceImpl) candidateKey(ctx context.Context, attempt int) (string, bool, error) {
	key, err := s.newKey()
	if err != nil {
		return "", false, fmt.Errorf("generate license key: %w", err)
	}
	exists, err := s.licenses.LicenseKeyExists(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("check license key: %w", err)
	}
	if exists {
		s.logger.Warn("license key collision", zap.Int("attempt", attempt))
		return "", false, nil
	}
	return key, true, nil
}

func (s *licenseServiceImpl) CreateLicense(ctx context.Context, orderID, userID, productID uuid.UUID) (*models.License, error) {
	// Deactivated products keep their existing and pending licenses valid.
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", productID, err)
	}
	if product == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	existing, err := s.licenses.FindByOrderAndProduct(ctx, orderID, productID)
	if err != nil {
		return nil, fmt.Errorf("find license: %w", err)
	}
	if existing != nil {
		s.logger.Info("license already issued",
			zap.String("order_id", orderID.String()),
			zap.String("product_id", productID.String()),
		)
		return existing, nil
	}

	// Collisions seen by the lookup and at insert share one attempt budget.
	for attempt := 1; attempt <= maxLicenseKeyAttempts; attempt++ {
		key, ok, err := s.candidateKey(ctx, attempt)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		license := &models.License{
			OrderID:         orderID,
			UserID:          userID,
			ProductID:       productID,
			LicenseKey:      key,
			Status:          models.LicenseStatusActive,
			LifetimeAccess:  true,
			AccessGrantedAt: s.now(),
		}
		err = s.licenses.Create(ctx, license)
		switch {
		case err == nil:
			s.logger.Info("license created",
				zap.String("order_id", orderID.String()),
				zap.String("product_id", productID.String()),
				zap.String("license_id", license.ID.String()),
			)
			return license, nil
		case errors.Is(err, repository.ErrDuplicateLicenseKey):
			s.logger.Warn("license key taken at insert, retrying", zap.Int("attempt", attempt))
		case errors.Is(err, repository.ErrLicenseExists):
			winner, findErr := s.licenses.FindByOrderAndProduct(ctx, orderID, productID)
			if findErr != nil {
				return nil, fmt.Errorf("find concurrent license: %w", findErr)
			}
			if winner == nil {
				return nil, fmt.Errorf("license for order %s product %s reported but not found", orderID, productID)
			}
			return winner, nil
		default:
			return nil, fmt.Errorf("insert license: %w", err)
		}
	}
	return nil, ErrLicenseKeyExhausted
}

func (s *licenseServiceImpl) CreateLicensesForOrder(ctx context.Context, orderID uuid.UUID) ([]models.License, error) {
	order, err := s.orders.GetOrderWithItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrOrderNotFound, orderID)
	}
	if len(order.Items) == 0 {
		s.logger.Warn("order has no items, no licenses issued", zap.String("order_id", orderID.String()))
		return []models.License{}, nil
	}
	if order.UserID == nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderHasNoUser, orderID)
	}

	items := lo.UniqBy(order.Items, func(item models.OrderItem) uuid.UUID {
		return item.ProductID
	})

	licenses := make([]models.License, 0, len(items))
	for _, item := range items {
		license, err := s.CreateLicense(ctx, order.ID, *order.UserID, item.ProductID)
		if err != nil {
			s.logger.Error("license creation failed",
				zap.String("order_id", order.ID.String()),
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err),
			)
			continue
		}
		licenses = append(licenses, *license)
	}
	return licenses, nil
}

func (s *licenseServiceImpl) UserHasActiveLicense(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	licenses, err := s.licenses.FindByUserAndProduct(ctx, userID, productID)
	if err != nil {
		return false, err
	}
	now := s.now()
	return lo.SomeBy(licenses, func(l models.License) bool {
		return l.GrantsAccess(now)
	}), nil
}

// GetLicenseByKey returns the user's license with key. Malformed keys fail
// with ErrInvalidLicenseKey before any lookup; other users' keys are
// reported as ErrLicenseNotFound.
func (s *licenseServiceImpl) GetLicenseByKey(ctx context.Context, userID uuid.UUID, key string) (*models.License, error) {
	key = NormalizeLicenseKey(key)
	if !ValidateLicenseKey(key) {
		return nil, ErrInvalidLicenseKey
	}
	license, err := s.licenses.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if license == nil || license.UserID != userID {
		return nil, ErrLicenseNotFound
	}
	return license, nil
}

func (s *licenseServiceImpl) ListUserLicenses(ctx context.Context, userID uuid.UUID) ([]models.License, error) {
	return s.licenses.ListByUser(ctx, userID)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lenmanean/logbloga/models"
	"github.com/lenmanean/logbloga/repository"
	"go.uber.org/zap"
)

const (
	bonusCouponPrefix     = "THANKS-"
	bonusCouponCodeLen    = 8
	maxCouponCodeAttempts = 3
)

type CouponConfig struct {
	Percent  float64
	Validity time.Duration
}

// CouponService issues thank-you coupons and looks coupons up.
type CouponService interface {
	// IssueBonusCoupon returns the order's bonus coupon, creating it on first
	// call. Repeated calls for the same order return the same coupon.
	IssueBonusCoupon(ctx context.Context, order *models.Order) (*models.Coupon, error)
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	// ReleaseCoupon gives back the checkout coupon use held by an order that
	// was cancelled. Orders without a coupon are a no-op.
	ReleaseCoupon(ctx context.Context, order *models.Order) error
}

type couponServiceImpl struct {
	repo   repository.CouponRepository
	cfg    CouponConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewCouponService(repo repository.CouponRepository, cfg CouponConfig, logger *zap.Logger) CouponService {
	return &couponServiceImpl{repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

func (s *couponServiceImpl) IssueBonusCoupon(ctx context.Context, order *models.Order) (*models.Coupon, error) {
	existing, err := s.repo.FindBySourceOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("find bonus coupon: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	for attempt := 1; attempt <= maxCouponCodeAttempts; attempt++ {
		suffix, err := randomChars(bonusCouponCodeLen)
		if err != nil {
			return nil, err
		}
		orderID := order.ID
		coupon := &models.Coupon{
			Code:          bonusCouponPrefix + suffix,
			Type:          models.CouponTypePercentage,
			Value:         s.cfg.Percent,
			UsageLimit:    1,
			ExpiresAt:     s.now().Add(s.cfg.Validity),
			Active:        true,
			SourceOrderID: &orderID,
			UserID:        order.UserID,
		}

		err = s.repo.Create(ctx, coupon)
		if err == nil {
			s.logger.Info("bonus coupon issued",
				zap.String("order_id", order.ID.String()),
				zap.String("code", coupon.Code),
			)
			return coupon, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("create bonus coupon: %w", err)
		}

		// Either a concurrent delivery issued the order's coupon or the code
		// collided; only the latter is worth another attempt.
		winner, findErr := s.repo.FindBySourceOrder(ctx, order.ID)
		if findErr != nil {
			return nil, fmt.Errorf("find bonus coupon: %w", findErr)
		}
		if winner != nil {
			return winner, nil
		}
		s.logger.Warn("coupon code collision", zap.Int("attempt", attempt))
	}
	return nil, fmt.Errorf("could not generate a unique coupon code for order %s", order.ID)
}

func (s *couponServiceImpl) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	coupon, err := s.repo.FindByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if coupon == nil {
		return nil, ErrCouponNotFound
	}
	return coupon, nil
}

func (s *couponServiceImpl) ReleaseCoupon(ctx context.Context, order *models.Order) error {
	if order.CouponID == nil {
		return nil
	}
	if err := s.repo.ReleaseUsage(ctx, *order.CouponID); err != nil {
		return fmt.Errorf("release coupon %s: %w", order.CouponID, err)
	}
	s.logger.Info("coupon released",
		zap.String("order_id", order.ID.String()),
		zap.String("coupon_id", order.CouponID.String()),
	)
	return nil
}

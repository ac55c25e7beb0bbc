package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/services"
)

type CouponController struct {
	coupons services.CouponService
}

func NewCouponController(coupons services.CouponService) *CouponController {
	return &CouponController{coupons: coupons}
}

// GetCoupon reports a coupon's terms and whether it can still be redeemed.
// Usage counts and the source order stay private.
func (cc *CouponController) GetCoupon(c *gin.Context) {
	coupon, err := cc.coupons.GetCoupon(c.Request.Context(), c.Param("code"))
	if errors.Is(err, services.ErrCouponNotFound) {
		_ = c.Error(apperrors.NotFound("Coupon not found"))
		return
	}
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       coupon.Code,
		"type":       coupon.Type,
		"value":      coupon.Value,
		"expires_at": coupon.ExpiresAt,
		"redeemable": coupon.Redeemable(time.Now()),
	})
}

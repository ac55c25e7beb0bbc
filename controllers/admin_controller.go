package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/common/middleware"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/services"
	"go.uber.org/zap"
)

type AdminController struct {
	orders   services.OrderService
	failures repository.SideEffectRepository
	logger   *zap.Logger
}

func NewAdminController(orders services.OrderService, failures repository.SideEffectRepository, logger *zap.Logger) *AdminController {
	return &AdminController{orders: orders, failures: failures, logger: logger}
}

func (ac *AdminController) RefundOrder(c *gin.Context) {
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	refundID, err := ac.orders.RefundOrder(c.Request.Context(), orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ac.logger.Info("admin refund requested",
		zap.String("order_id", orderID.String()),
		zap.String("admin_id", c.GetString(middleware.ContextUserID)),
	)
	c.JSON(http.StatusAccepted, gin.H{"refund_id": refundID})
}

// ListSideEffectFailures shows unreconciled side effects, oldest first.
func (ac *AdminController) ListSideEffectFailures(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	failures, err := ac.failures.ListUnresolved(c.Request.Context(), min(limit, 500))
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

func (ac *AdminController) ResolveSideEffectFailure(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := ac.failures.Resolve(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = c.Error(apperrors.NotFound("Failure not found"))
			return
		}
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.Status(http.StatusNoContent)
}

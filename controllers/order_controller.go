package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/common/middleware"
	"github.com/lenmanean/logbloga/services"
)

type OrderController struct {
	orders services.OrderService
}

func NewOrderController(orders services.OrderService) *OrderController {
	return &OrderController{orders: orders}
}

// Checkout creates a pending order and returns the Stripe Checkout URL.
// Guests may check out; a signed-in buyer's order is attached to them.
func (oc *OrderController) Checkout(c *gin.Context) {
	var req services.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "Invalid request", err))
		return
	}

	var userID *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		userID = &id
	}

	result, err := oc.orders.StartCheckout(c.Request.Context(), userID, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (oc *OrderController) ListOrders(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)

	orders, total, err := oc.orders.ListOrders(c.Request.Context(), userID, page, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": pageMeta{Page: page, Limit: limit, Total: total},
	})
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	orderID, ok := uuidParam(c, "id")
	if !ok {
		return
	}

	order, err := oc.orders.GetOrder(c.Request.Context(), userID, orderID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

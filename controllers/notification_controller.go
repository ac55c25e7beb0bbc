package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/repository"
	"github.com/lenmanean/logbloga/services"
)

type NotificationController struct {
	notifications services.NotificationService
}

func NewNotificationController(notifications services.NotificationService) *NotificationController {
	return &NotificationController{notifications: notifications}
}

func (nc *NotificationController) List(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	unreadOnly := c.Query("unread") == "true"

	items, total, err := nc.notifications.ListNotifications(c.Request.Context(), userID, unreadOnly, page, limit)
	if err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": items,
		"pagination":    pageMeta{Page: page, Limit: limit, Total: total},
	})
}

func (nc *NotificationController) MarkRead(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	if err := nc.notifications.MarkRead(c.Request.Context(), userID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			_ = c.Error(apperrors.NotFound("Notification not found"))
			return
		}
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.Status(http.StatusNoContent)
}

type preferencesRequest struct {
	EmailNotifications *bool `json:"email_notifications" binding:"required"`
}

func (nc *NotificationController) UpdatePreferences(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.New(http.StatusBadRequest, "Invalid request", err))
		return
	}
	if err := nc.notifications.SetEmailEnabled(c.Request.Context(), userID, *req.EmailNotifications); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"email_notifications": *req.EmailNotifications})
}

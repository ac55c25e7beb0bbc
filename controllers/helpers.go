package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apperrors "github.com/lenmanean/logbloga/common/errors"
	"github.com/lenmanean/logbloga/common/middleware"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

type pageMeta struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// parsePagination reads page and limit, falling back to the defaults for
// missing or out-of-range values.
func parsePagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(defaultPage)))
	if err != nil || page < 1 {
		page = defaultPage
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	return page, min(limit, maxLimit)
}

// requireUser returns the authenticated user id or records a 401.
func requireUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.Unauthorized("Authentication required"))
		return uuid.Nil, false
	}
	return id, true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		_ = c.Error(apperrors.BadRequest("Invalid " + name))
		return uuid.Nil, false
	}
	return id, true
}

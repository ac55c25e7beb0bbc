package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger checks one dependency.
type Pinger func(ctx context.Context) error

type HealthController struct {
	checks map[string]Pinger
	logger *zap.Logger
}

func NewHealthController(checks map[string]Pinger, logger *zap.Logger) *HealthController {
	return &HealthController{checks: checks, logger: logger}
}

func (hc *HealthController) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(hc.checks))
	for name, ping := range hc.checks {
		if err := ping(ctx); err != nil {
			hc.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "dependencies": deps})
}

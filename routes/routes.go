package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/lenmanean/logbloga/common/middleware"
	"github.com/lenmanean/logbloga/controllers"
)

type Controllers struct {
	Webhook      *controllers.WebhookController
	Orders       *controllers.OrderController
	Library      *controllers.LibraryController
	Downloads    *controllers.DownloadController
	Notification *controllers.NotificationController
	Coupons      *controllers.CouponController
	Admin        *controllers.AdminController
	Health       *controllers.HealthController
}

// RegisterRoutes mounts every endpoint. downloads limits the download
// endpoint per user.
func RegisterRoutes(r *gin.Engine, c Controllers, auth *middleware.Authenticator, downloads *middleware.RateLimiter) {
	r.GET("/health", c.Health.Health)

	// Stripe webhook (signature verified, no auth)
	r.POST("/webhooks/stripe", c.Webhook.StripeWebhook)

	r.POST("/checkout", auth.OptionalAuth(), c.Orders.Checkout)
	r.GET("/coupons/:code", c.Coupons.GetCoupon)

	authed := r.Group("/")
	authed.Use(auth.RequireAuth())
	{
		authed.GET("/orders", c.Orders.ListOrders)
		authed.GET("/orders/:id", c.Orders.GetOrder)

		authed.GET("/library/licenses", c.Library.ListLicenses)
		authed.GET("/library/access/:productId", c.Library.CheckAccess)
		authed.GET("/licenses/:key", c.Library.GetLicense)

		authed.GET("/downloads/:key", downloads.Middleware(), c.Downloads.Download)

		authed.GET("/notifications", c.Notification.List)
		authed.POST("/notifications/:id/read", c.Notification.MarkRead)
		authed.PUT("/notifications/preferences", c.Notification.UpdatePreferences)
	}

	admin := r.Group("/admin")
	admin.Use(auth.RequireAuth(), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/orders/:id/refund", c.Admin.RefundOrder)
		admin.GET("/side-effects", c.Admin.ListSideEffectFailures)
		admin.POST("/side-effects/:id/resolve", c.Admin.ResolveSideEffectFailure)
	}
}

package router

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/consult-backend/internal/config"
	"github.com/ignatzorin/consult-backend/internal/http/handlers"
	"github.com/ignatzorin/consult-backend/internal/http/middleware"
	"github.com/ignatzorin/consult-backend/internal/models"
)

// Handlers набор обработчиков HTTP API.
type Handlers struct {
	Booking  *handlers.BookingHandler
	Feedback *handlers.FeedbackHandler
	Dispute  *handlers.DisputeHandler
	Admin    *handlers.AdminHandler
	Webhook  *handlers.WebhookHandler
	Health   *handlers.HealthHandler
	WS       *handlers.WSHandler
}

func SetupRouter(cfg *config.Config, h Handlers, tokens middleware.TokenParser, limits limiter.Store) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.Tracing("consult-backend"))
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", h.Health.Health)

	api := r.Group("/api")

	// вебхуки подписываются отправителем, JWT не нужен
	webhooks := api.Group("/webhooks")
	{
		webhooks.POST("/payments", h.Webhook.Payments)
		webhooks.POST("/meetings", h.Webhook.Meetings)
	}

	api.GET("/ws", h.WS.Handle)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(tokens))
	protected.Use(middleware.RateLimitMiddleware(limits, cfg.RateLimitLimit, cfg.RateLimitPeriod))

	bookings := protected.Group("/bookings")
	{
		bookings.POST("", h.Booking.Create)
		bookings.GET("", h.Booking.List)

		byID := bookings.Group("/:id", middleware.UUIDValidator("id"))
		byID.GET("", h.Booking.Get)
		byID.GET("/history", h.Booking.History)
		byID.POST("/accept", h.Booking.Accept)
		byID.POST("/decline", h.Booking.Decline)
		byID.POST("/cancel", h.Booking.Cancel)
		byID.POST("/reschedule", h.Booking.RequestReschedule)
		byID.POST("/reschedule/confirm", h.Booking.ConfirmReschedule)
		byID.POST("/reschedule/reject", h.Booking.RejectReschedule)
		byID.PUT("/feedback", h.Feedback.Submit)
		byID.GET("/feedback", h.Feedback.Get)
		byID.GET("/payout", h.Feedback.Payout)
		byID.POST("/disputes", h.Dispute.Open)
		byID.GET("/disputes", h.Dispute.ListByBooking)
	}

	protected.GET("/disputes/:id", middleware.UUIDValidator("id"), h.Dispute.Get)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), h.Admin.ResolveDispute)
		admin.POST("/bookings/:id/qc/recheck", middleware.UUIDValidator("id"), h.Admin.RecheckQC)
		admin.POST("/bookings/:id/payout/paid", middleware.UUIDValidator("id"), h.Admin.MarkPayoutPaid)
	}

	return r
}

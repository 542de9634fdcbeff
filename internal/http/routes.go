package http

import (
	"avtoborsa/internal/config"
	"avtoborsa/internal/http/handlers"
	"avtoborsa/internal/http/middleware"
	"avtoborsa/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

func RegisterRoutes(r *gin.Engine, db *pgxpool.Pool, payments *service.PaymentService, cfg *config.Config, version string) {
	h := handlers.NewHandler(payments, cfg)
	healthHandler := handlers.NewHealthHandler(db, version)

	// Health checks (no rate limiting)
	r.GET("/health", healthHandler.Health)
	r.GET("/healthz", healthHandler.Liveness)
	r.GET("/readyz", healthHandler.Readiness)

	// Webhook delivery is retried by the processor on non-2xx; it must not
	// go through the client rate limiter.
	r.POST("/api/v1/payments/webhook", h.Webhook)
	r.POST("/api/payments/webhook", h.Webhook)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.RedisRateLimit(cfg.APIRateLimit, cfg.APIRateWindow))
	registerAPIRoutes(v1, h)

	// Legacy /api routes (kept for backward compatibility)
	api := r.Group("/api")
	api.Use(middleware.RedisRateLimit(cfg.APIRateLimit, cfg.APIRateWindow))
	api.GET("/health", healthHandler.Health)
	registerAPIRoutes(api, h)
}

func registerAPIRoutes(api *gin.RouterGroup, h *handlers.Handler) {
	// Balance and history
	api.GET("/balance", middleware.JWT(), h.Balance)
	api.GET("/payments/history", middleware.JWT(), h.History)

	// Checkout lifecycle
	api.POST("/payments/checkout", middleware.JWT(), h.CreateCheckout)
	api.GET("/payments/session", middleware.JWT(), h.SessionStatus)
}

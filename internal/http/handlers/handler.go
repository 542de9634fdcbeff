package handlers

import (
	"avtoborsa/internal/config"
	"avtoborsa/internal/service"
)

type Handler struct {
	Payments *service.PaymentService
	Cfg      *config.Config
}

func NewHandler(payments *service.PaymentService, cfg *config.Config) *Handler {
	return &Handler{
		Payments: payments,
		Cfg:      cfg,
	}
}

// getUserID extracts the authenticated user id from the gin context
func getUserID(c interface{ Get(string) (any, bool) }) (int64, bool) {
	uidVal, ok := c.Get("user_id")
	if !ok {
		return 0, false
	}
	switch v := uidVal.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

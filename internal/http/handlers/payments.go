package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"avtoborsa/internal/domain"
	"avtoborsa/internal/logger"
	"avtoborsa/internal/service"
	"avtoborsa/internal/stripe"

	"github.com/gin-gonic/gin"
)

// CreateCheckout starts a new balance top-up checkout session
func (h *Handler) CreateCheckout(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.Payments.CreateCheckout(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrInvalidCurrency),
			errors.Is(err, domain.ErrInvalidRedirectURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrRemoteService):
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout"})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// SessionStatus polls a checkout session and reports the reconciled state
func (h *Handler) SessionStatus(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	status, err := h.Payments.PollSession(c.Request.Context(), userID, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to poll session"})
		return
	}

	c.JSON(http.StatusOK, status)
}

// Balance returns the caller's current account balance
func (h *Handler) Balance(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, err := h.Payments.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// History returns the caller's payment transactions
func (h *Handler) History(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	transactions, err := h.Payments.History(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}

// Webhook receives processor events. The endpoint is unauthenticated at the
// application layer; payloads are authenticated by signature instead. The
// processor redelivers on any non-2xx response.
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read payload"})
		return
	}

	event, err := stripe.ConstructEvent(payload,
		c.GetHeader(stripe.SignatureHeader),
		h.Cfg.StripeWebhookSecret,
		h.Cfg.WebhookTolerance)
	if err != nil {
		if errors.Is(err, domain.ErrSignatureInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := h.Payments.HandleEvent(c.Request.Context(), event); err != nil {
		logger.Warn("webhook event rejected", "event_id", event.ID, "type", event.Type, "error", err)
		if errors.Is(err, domain.ErrEventUnprocessable) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event cannot be processed"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"avtoborsa/internal/config"
	"avtoborsa/internal/http/middleware"
	"avtoborsa/internal/service"
	"avtoborsa/internal/storage/memory"
	"avtoborsa/internal/stripe"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const webhookSecret = "whsec_handler_test"

type stubClient struct {
	mu  sync.Mutex
	seq int
}

func (c *stubClient) CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripe.CheckoutSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	amount := p.AmountMinor
	id := fmt.Sprintf("cs_stub_%d", c.seq)
	return &stripe.CheckoutSession{
		ID:            id,
		URL:           "https://pay.example.com/" + id,
		Status:        stripe.SessionStatusOpen,
		PaymentStatus: "unpaid",
		AmountTotal:   &amount,
		Currency:      p.Currency,
	}, nil
}

func (c *stubClient) GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	return &stripe.CheckoutSession{ID: sessionID, Status: stripe.SessionStatusOpen, PaymentStatus: "unpaid"}, nil
}

func testRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	service.InitJWT("handler-test-secret")

	store := memory.NewStore()
	cfg := &config.Config{
		AppEnv:              "test",
		StripeWebhookSecret: webhookSecret,
		WebhookTolerance:    300 * time.Second,
		MaxAmount:           decimal.New(99999999, -2),
		DefaultCurrency:     "eur",
		CheckoutSuccessURL:  "https://avtoborsa.example/payments/success",
		CheckoutCancelURL:   "https://avtoborsa.example/payments/cancel",
	}
	payments := service.NewPaymentService(store, &stubClient{}, cfg, nil, nil)
	h := NewHandler(payments, cfg)

	r := gin.New()
	r.POST("/api/v1/payments/webhook", h.Webhook)
	api := r.Group("/api/v1")
	api.GET("/balance", middleware.JWT(), h.Balance)
	api.GET("/payments/history", middleware.JWT(), h.History)
	api.POST("/payments/checkout", middleware.JWT(), h.CreateCheckout)
	api.GET("/payments/session", middleware.JWT(), h.SessionStatus)
	return r, store
}

func authHeader(t *testing.T, userID int64) string {
	t.Helper()
	token, err := service.GenerateJWT(userID)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return "Bearer " + token
}

func signedWebhookRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(payload))
	req.Header.Set(stripe.SignatureHeader, stripe.SignPayload([]byte(payload), webhookSecret, time.Now()))
	return req
}

func TestWebhook_InvalidSignature(t *testing.T) {
	r, _ := testRouter(t)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(payload))
	req.Header.Set(stripe.SignatureHeader, stripe.SignPayload([]byte(payload), "whsec_wrong", time.Now()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid signature") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook",
		strings.NewReader(`{"id":"evt_1","type":"checkout.session.completed"}`))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestWebhook_CreditsBalance(t *testing.T) {
	r, store := testRouter(t)

	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_wh_1","status":"complete","payment_status":"paid","amount_total":2550,` +
		`"currency":"eur","metadata":{"user_id":"42"}}}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, payload))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	balance, _ := store.GetBalance(context.Background(), 42)
	if !balance.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("balance = %s, want 25.50", balance)
	}

	// redelivery: still 200, no double credit
	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, payload))
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery status = %d", w.Code)
	}
	balance, _ = store.GetBalance(context.Background(), 42)
	if !balance.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("balance after redelivery = %s, want 25.50", balance)
	}
}

func TestWebhook_UnrelatedEventAcknowledged(t *testing.T) {
	r, _ := testRouter(t)

	payload := `{"id":"evt_1","type":"invoice.paid","data":{"object":{"id":"in_1"}}}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, payload))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestWebhook_UnprocessableEvent(t *testing.T) {
	r, _ := testRouter(t)

	// paid session with no owner reference and no amount
	payload := `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{` +
		`"id":"cs_orphan","payment_status":"paid"}}}`

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedWebhookRequest(t, payload))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateCheckout(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
		strings.NewReader(`{"amount":"25.50"}`))
	req.Header.Set("Authorization", authHeader(t, 42))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var result struct {
		SessionID string `json:"session_id"`
		URL       string `json:"url"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.SessionID == "" || result.URL == "" || result.Status != "pending" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCreateCheckout_InvalidAmount(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
		strings.NewReader(`{"amount":"0"}`))
	req.Header.Set("Authorization", authHeader(t, 42))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateCheckout_Unauthorized(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
		strings.NewReader(`{"amount":"10"}`))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestSessionStatus_NotFound(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/session?session_id=cs_unknown", nil)
	req.Header.Set("Authorization", authHeader(t, 42))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSessionStatus_MissingParam(t *testing.T) {
	r, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/session", nil)
	req.Header.Set("Authorization", authHeader(t, 42))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestBalance(t *testing.T) {
	r, store := testRouter(t)
	store.SetBalance(42, decimal.RequireFromString("99.90"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil)
	req.Header.Set("Authorization", authHeader(t, 42))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "99.9") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestHistory(t *testing.T) {
	r, _ := testRouter(t)

	// create two checkouts for the same user
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/checkout",
			strings.NewReader(`{"amount":"10.00"}`))
		req.Header.Set("Authorization", authHeader(t, 42))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("checkout %d: status = %d, body = %s", i, w.Code, w.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/history", nil)
	req.Header.Set("Authorization", authHeader(t, 42))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Transactions) != 2 {
		t.Fatalf("len = %d, want 2", len(resp.Transactions))
	}
}

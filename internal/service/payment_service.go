package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"avtoborsa/internal/config"
	"avtoborsa/internal/domain"
	"avtoborsa/internal/logger"
	"avtoborsa/internal/storage"
	"avtoborsa/internal/stripe"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionClient is the slice of the payment API the engine needs
type SessionClient interface {
	CreateCheckoutSession(ctx context.Context, p stripe.CheckoutParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
}

// Notifier fires the post-credit invoice notification
type Notifier interface {
	Dispatch(transactionID int64)
}

// EventPublisher publishes post-credit events to downstream consumers
type EventPublisher interface {
	Publish(topic string, event any) error
}

// BalanceCredited is published once per credited transaction
type BalanceCredited struct {
	EventID       string          `json:"event_id"`
	TransactionID int64           `json:"transaction_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// CheckoutRequest is the validated-at-entry input for CreateCheckout
type CheckoutRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	SuccessURL string          `json:"success_url,omitempty"`
	CancelURL  string          `json:"cancel_url,omitempty"`
}

// PaymentService is the reconciliation engine: the only code path allowed
// to mutate transaction state and account balances. Both the poll path and
// the webhook path funnel into applySession, and every credit goes through
// the store's single crediting primitive.
type PaymentService struct {
	store     storage.Store
	client    SessionClient
	cfg       *config.Config
	notifier  Notifier
	publisher EventPublisher
	log       *slog.Logger
}

// NewPaymentService creates the engine. notifier and publisher may be nil.
func NewPaymentService(store storage.Store, client SessionClient, cfg *config.Config, notifier Notifier, publisher EventPublisher) *PaymentService {
	return &PaymentService{
		store:     store,
		client:    client,
		cfg:       cfg,
		notifier:  notifier,
		publisher: publisher,
		log:       logger.With("component", "payments"),
	}
}

// CreateCheckout validates the request, creates a remote checkout session
// and records a pending transaction for it.
func (s *PaymentService) CreateCheckout(ctx context.Context, userID int64, req CheckoutRequest) (*domain.CheckoutResult, error) {
	amount := req.Amount
	if !amount.IsPositive() || amount.GreaterThan(s.cfg.MaxAmount) {
		return nil, domain.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return nil, fmt.Errorf("%w: at most two decimal places", domain.ErrInvalidAmount)
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	if !validCurrency(currency) {
		return nil, domain.ErrInvalidCurrency
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.cfg.CheckoutSuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.cfg.CheckoutCancelURL
	}
	if !validRedirectURL(successURL) || !validRedirectURL(cancelURL) {
		return nil, domain.ErrInvalidRedirectURL
	}

	ref := strconv.FormatInt(userID, 10)
	session, err := s.client.CreateCheckoutSession(ctx, stripe.CheckoutParams{
		AmountMinor:       amount.Shift(2).IntPart(),
		Currency:          currency,
		ProductName:       "AvtoBorsa balance top-up",
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		ClientReferenceID: ref,
		Metadata:          map[string]string{"user_id": ref},
	})
	if err != nil {
		return nil, err
	}

	snapshot, _ := json.Marshal(session)
	t := &domain.Transaction{
		UserID:          userID,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntent,
		Amount:          amount,
		Currency:        currency,
		Status:          domain.StatusPending,
		Snapshot:        snapshot,
	}
	if err := s.store.CreateTransaction(ctx, t); err != nil {
		return nil, err
	}

	CheckoutsCreated.Inc()
	s.log.Info("checkout session created",
		"transaction_id", t.ID, "session_id", session.ID, "user_id", userID,
		"amount", amount.String(), "currency", currency)

	return &domain.CheckoutResult{
		TransactionID: t.ID,
		SessionID:     session.ID,
		URL:           session.URL,
		Status:        string(t.Status),
	}, nil
}

// PollSession reconciles a pending transaction against the processor's live
// session state. Remote failures degrade to "still pending": polling must
// always be safe to retry.
func (s *PaymentService) PollSession(ctx context.Context, userID int64, sessionID string) (*domain.SessionStatus, error) {
	t, err := s.store.GetTransactionBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.UserID != userID {
		return nil, domain.ErrNotFound
	}

	if t.Status == domain.StatusPending {
		session, err := s.client.GetCheckoutSession(ctx, sessionID)
		if err != nil {
			s.log.Warn("session poll failed, leaving transaction pending",
				"session_id", sessionID, "error", err)
		} else {
			t, err = s.applySession(ctx, t, session, "", "")
			if err != nil {
				return nil, err
			}
		}
	}

	balance, err := s.store.GetBalance(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	return &domain.SessionStatus{
		TransactionID: t.ID,
		SessionID:     t.SessionID,
		Status:        string(t.Status),
		Credited:      t.Credited,
		Balance:       balance,
	}, nil
}

// HandleEvent applies a verified webhook event. Event types outside the
// checkout lifecycle are acknowledged without effect.
func (s *PaymentService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case stripe.EventCheckoutCompleted,
		stripe.EventAsyncPaymentSucceeded,
		stripe.EventCheckoutExpired,
		stripe.EventAsyncPaymentFailed:
	default:
		WebhookEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	err := s.handleCheckoutEvent(ctx, event)
	if err != nil {
		WebhookEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	WebhookEvents.WithLabelValues(event.Type, "ok").Inc()
	return nil
}

func (s *PaymentService) handleCheckoutEvent(ctx context.Context, event *stripe.Event) error {
	session, err := event.Session()
	if err != nil {
		return err
	}

	t, err := s.store.GetTransactionBySession(ctx, session.ID)
	if err != nil {
		return err
	}
	if t == nil {
		// Webhook can outrun the client; adopt the session locally.
		t, err = s.adoptSession(ctx, session)
		if err != nil {
			return err
		}
	}

	_, err = s.applySession(ctx, t, session, event.ID, event.Type)
	return err
}

// adoptSession builds a local transaction from a webhook-delivered session
// payload. An event that cannot be attributed or priced is rejected whole.
func (s *PaymentService) adoptSession(ctx context.Context, session *stripe.CheckoutSession) (*domain.Transaction, error) {
	userID, err := resolveOwner(session)
	if err != nil {
		return nil, err
	}
	if session.AmountTotal == nil {
		return nil, fmt.Errorf("%w: session %s has no amount_total", domain.ErrEventUnprocessable, session.ID)
	}
	amount := decimal.New(*session.AmountTotal, -2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: session %s has non-positive amount", domain.ErrEventUnprocessable, session.ID)
	}

	currency := strings.ToLower(session.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	snapshot, _ := json.Marshal(session)
	t := &domain.Transaction{
		UserID:          userID,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntent,
		Amount:          amount,
		Currency:        currency,
		Status:          domain.StatusPending,
		Snapshot:        snapshot,
	}
	if err := s.store.CreateTransaction(ctx, t); err != nil {
		if errors.Is(err, domain.ErrSessionExists) {
			// Lost the race against a concurrent delivery of the same session
			existing, err := s.store.GetTransactionBySession(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, domain.ErrNotFound
			}
			return existing, nil
		}
		return nil, err
	}

	s.log.Info("transaction created from webhook",
		"transaction_id", t.ID, "session_id", session.ID, "user_id", userID)
	return t, nil
}

// applySession is the single set of transition rules shared by the poll and
// webhook paths.
func (s *PaymentService) applySession(ctx context.Context, t *domain.Transaction, session *stripe.CheckoutSession, eventID, eventType string) (*domain.Transaction, error) {
	snapshot, _ := json.Marshal(session)

	if t.Status.Terminal() {
		// Conservative policy: a success reported after failed/cancelled
		// does not re-open the transaction.
		if sessionPaid(session, eventType) && !t.Credited {
			s.log.Warn("late success for closed transaction ignored",
				"transaction_id", t.ID, "status", t.Status, "event_id", eventID)
		}
		if err := s.store.RefreshSnapshot(ctx, t.ID, eventID, snapshot); err != nil {
			return nil, err
		}
		return t, nil
	}

	switch {
	case sessionPaid(session, eventType):
		return s.credit(ctx, t, eventID, snapshot)
	case session.Status == stripe.SessionStatusExpired || eventType == stripe.EventCheckoutExpired:
		return s.store.CloseTransaction(ctx, t.ID, domain.StatusCancelled, "checkout session expired", eventID, snapshot)
	case eventType == stripe.EventAsyncPaymentFailed:
		return s.store.CloseTransaction(ctx, t.ID, domain.StatusFailed, "asynchronous payment failed", eventID, snapshot)
	default:
		// Session still open, or completed but awaiting async settlement
		if err := s.store.RefreshSnapshot(ctx, t.ID, eventID, snapshot); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func (s *PaymentService) credit(ctx context.Context, t *domain.Transaction, eventID string, snapshot []byte) (*domain.Transaction, error) {
	credited, creditedNow, err := s.store.CreditTransaction(ctx, t.ID, eventID, snapshot)
	if err != nil {
		return nil, err
	}
	if creditedNow {
		CreditsTotal.WithLabelValues(credited.Currency).Inc()
		s.log.Info("transaction credited",
			"transaction_id", credited.ID, "user_id", credited.UserID,
			"amount", credited.Amount.String(), "currency", credited.Currency)
		s.afterCredit(credited)
	}
	return credited, nil
}

// afterCredit schedules post-commit side effects. They run outside the
// crediting critical section and their failures never touch the ledger.
func (s *PaymentService) afterCredit(t *domain.Transaction) {
	if s.notifier != nil {
		go s.notifier.Dispatch(t.ID)
	}
	if s.publisher != nil {
		event := BalanceCredited{
			EventID:       uuid.NewString(),
			TransactionID: t.ID,
			UserID:        t.UserID,
			Amount:        t.Amount,
			Currency:      t.Currency,
			OccurredAt:    time.Now().UTC(),
		}
		go func() {
			if err := s.publisher.Publish("payment.credited", event); err != nil {
				s.log.Error("failed to publish credited event",
					"transaction_id", t.ID, "error", err)
			}
		}()
	}
}

// Balance returns the current account balance
func (s *PaymentService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, userID)
}

// History returns the caller's transactions, newest first
func (s *PaymentService) History(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	return s.store.ListTransactionsByUser(ctx, userID, limit)
}

// sessionPaid: a session counts as paid when the processor says so, or when
// the triggering event is the asynchronous-success event (payment_status
// can lag behind for methods that settle after redirect).
func sessionPaid(session *stripe.CheckoutSession, eventType string) bool {
	return session.PaymentStatus == stripe.PaymentStatusPaid ||
		eventType == stripe.EventAsyncPaymentSucceeded
}

func resolveOwner(session *stripe.CheckoutSession) (int64, error) {
	ref := session.Metadata["user_id"]
	if ref == "" {
		ref = session.ClientReferenceID
	}
	if ref == "" {
		return 0, fmt.Errorf("%w: session %s carries no owner reference", domain.ErrEventUnprocessable, session.ID)
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad owner reference %q", domain.ErrEventUnprocessable, ref)
	}
	return id, nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'a' || c[i] > 'z' {
			return false
		}
	}
	return true
}

func validRedirectURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"avtoborsa/internal/domain"
	"avtoborsa/internal/logger"
	"avtoborsa/internal/storage"

	"github.com/shopspring/decimal"
)

// Invoice is the payload handed to the mail collaborator. Rendering the
// actual document happens downstream.
type Invoice struct {
	Number        string          `json:"number"`
	TransactionID int64           `json:"transaction_id"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// Sender delivers an invoice to the user
type Sender interface {
	SendInvoice(ctx context.Context, inv Invoice) error
}

// InvoiceNotifier fires the invoice email for a credited transaction. It
// runs strictly after the crediting transaction commits; a failed delivery
// is logged and dropped, never retried and never rolled back into the
// ledger.
type InvoiceNotifier struct {
	store   storage.Store
	sender  Sender
	timeout time.Duration
	log     *slog.Logger
}

func NewInvoiceNotifier(store storage.Store, sender Sender) *InvoiceNotifier {
	return &InvoiceNotifier{
		store:   store,
		sender:  sender,
		timeout: 30 * time.Second,
		log:     logger.With("component", "invoice_notifier"),
	}
}

// Dispatch looks up the credited transaction and sends its invoice
func (n *InvoiceNotifier) Dispatch(transactionID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	t, err := n.store.GetTransactionByID(ctx, transactionID)
	if err != nil {
		n.log.Error("invoice lookup failed", "transaction_id", transactionID, "error", err)
		return
	}
	if t == nil || !t.Credited || t.CreditedAt == nil {
		n.log.Warn("invoice skipped for uncredited transaction", "transaction_id", transactionID)
		return
	}

	inv := Invoice{
		Number:        InvoiceNumber(t),
		TransactionID: t.ID,
		UserID:        t.UserID,
		Amount:        t.Amount,
		Currency:      t.Currency,
		IssuedAt:      *t.CreditedAt,
	}

	if err := n.sender.SendInvoice(ctx, inv); err != nil {
		n.log.Error("invoice delivery failed", "transaction_id", t.ID, "invoice", inv.Number, "error", err)
		return
	}
	n.log.Info("invoice sent", "transaction_id", t.ID, "invoice", inv.Number)
}

// InvoiceNumber derives the invoice identifier from the credit date and the
// transaction ID, so regenerating an invoice is idempotent.
func InvoiceNumber(t *domain.Transaction) string {
	return fmt.Sprintf("INV-%s-%d", t.CreditedAt.UTC().Format("20060102"), t.ID)
}

// HTTPSender posts invoices to the mail service endpoint
type HTTPSender struct {
	url        string
	httpClient *http.Client
}

func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{
		url: url,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (s *HTTPSender) SendInvoice(ctx context.Context, inv Invoice) error {
	body, err := json.Marshal(inv)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mailer returned %s", resp.Status)
	}
	return nil
}

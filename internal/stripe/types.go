package stripe

import (
	"encoding/json"

	"avtoborsa/internal/domain"
)

// Checkout session event types delivered to the webhook endpoint
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired       = "checkout.session.expired"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

const (
	PaymentStatusPaid = "paid"

	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"
)

// CheckoutSession is the processor's representation of one payment attempt
type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url,omitempty"`
	PaymentIntent     string            `json:"payment_intent,omitempty"`
	PaymentStatus     string            `json:"payment_status,omitempty"`
	Status            string            `json:"status,omitempty"`
	AmountTotal       *int64            `json:"amount_total,omitempty"` // minor units; nil when absent
	Currency          string            `json:"currency,omitempty"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Event is the webhook envelope
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Session unmarshals the embedded checkout session payload
func (e *Event) Session() (*CheckoutSession, error) {
	if len(e.Data.Object) == 0 {
		return nil, domain.ErrEventUnprocessable
	}
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, domain.ErrEventUnprocessable
	}
	if s.ID == "" {
		return nil, domain.ErrEventUnprocessable
	}
	return &s, nil
}

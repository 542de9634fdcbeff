package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus represents the reconciliation state of a checkout attempt
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusSucceeded TransactionStatus = "succeeded"
	StatusFailed    TransactionStatus = "failed"
	StatusCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected
func (s TransactionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Transaction is one row per checkout attempt. Rows are never deleted;
// they are the financial audit record.
type Transaction struct {
	ID              int64             `db:"id" json:"id"`
	UserID          int64             `db:"user_id" json:"user_id"`
	SessionID       string            `db:"session_id" json:"session_id"`
	PaymentIntentID string            `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	Amount          decimal.Decimal   `db:"amount" json:"amount"`
	Currency        string            `db:"currency" json:"currency"`
	Status          TransactionStatus `db:"status" json:"status"`
	Credited        bool              `db:"credited" json:"credited"`
	CreditedAt      *time.Time        `db:"credited_at" json:"credited_at,omitempty"`
	LastEventID     string            `db:"last_event_id" json:"last_event_id,omitempty"`
	FailureReason   string            `db:"failure_reason" json:"failure_reason,omitempty"`
	Snapshot        json.RawMessage   `db:"snapshot" json:"-"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// CheckoutResult is returned to the client after a session is created
type CheckoutResult struct {
	TransactionID int64  `json:"transaction_id"`
	SessionID     string `json:"session_id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
}

// SessionStatus is returned by the poll endpoint
type SessionStatus struct {
	TransactionID int64           `json:"transaction_id"`
	SessionID     string          `json:"session_id"`
	Status        string          `json:"status"`
	Credited      bool            `json:"credited"`
	Balance       decimal.Decimal `json:"balance"`
}

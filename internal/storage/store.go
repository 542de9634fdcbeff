package storage

import (
	"context"

	"avtoborsa/internal/domain"

	"github.com/shopspring/decimal"
)

// Store is the transaction ledger. Lookups return (nil, nil) when no row
// matches. Implementations must guarantee that CreditTransaction applies a
// transaction's amount to the owner's balance at most once, no matter how
// many callers race on it.
type Store interface {
	// CreateTransaction inserts a new pending row. Returns
	// domain.ErrSessionExists when the session ID is already recorded.
	CreateTransaction(ctx context.Context, t *domain.Transaction) error

	GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error)
	GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error)

	// RefreshSnapshot stores the last-seen session payload without touching
	// state. Snapshot data is audit material, never authoritative.
	RefreshSnapshot(ctx context.Context, id int64, eventID string, snapshot []byte) error

	// CloseTransaction moves a pending row into a non-success terminal
	// state. Terminal rows are left untouched; the current row is returned
	// either way.
	CloseTransaction(ctx context.Context, id int64, status domain.TransactionStatus, reason, eventID string, snapshot []byte) (*domain.Transaction, error)

	// CreditTransaction is the crediting primitive. Under an exclusive
	// account-scoped lock it re-reads the credited flag, and only if still
	// unset adds the amount to the owner's balance and marks the row
	// succeeded+credited, atomically. The bool reports whether the credit
	// happened in this call.
	CreditTransaction(ctx context.Context, id int64, eventID string, snapshot []byte) (*domain.Transaction, bool, error)

	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
}

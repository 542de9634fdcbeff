package postgres

import (
	"context"
	"errors"
	"time"

	"avtoborsa/internal/domain"
	"avtoborsa/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const txColumns = `
	id, user_id, session_id, payment_intent_id, amount::text, currency,
	status, credited, credited_at, last_event_id, failure_reason, snapshot,
	created_at, updated_at`

// Store is the postgres-backed transaction ledger
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// CreateTransaction inserts a new pending transaction row
func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO payment_transactions
			(user_id, session_id, payment_intent_id, amount, currency, status, last_event_id, snapshot)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, t.UserID, t.SessionID, t.PaymentIntentID, t.Amount.String(), t.Currency,
		t.Status, t.LastEventID, nullableJSON(t.Snapshot),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrSessionExists
	}
	return err
}

// GetTransactionByID retrieves a transaction by internal ID
func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM payment_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionBySession retrieves a transaction by processor session ID
func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+txColumns+` FROM payment_transactions WHERE session_id = $1`, sessionID)
	return scanTransaction(row)
}

// ListTransactionsByUser retrieves a user's transactions, newest first
func (s *Store) ListTransactionsByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionValues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RefreshSnapshot stores the last-seen session payload, no state change
func (s *Store) RefreshSnapshot(ctx context.Context, id int64, eventID string, snapshot []byte) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payment_transactions
		SET snapshot = COALESCE($3, snapshot),
		    last_event_id = COALESCE(NULLIF($2, ''), last_event_id),
		    updated_at = now()
		WHERE id = $1
	`, id, eventID, nullableJSON(snapshot))
	return err
}

// CloseTransaction moves a pending row to failed or cancelled. Rows already
// in a terminal state are returned unchanged.
func (s *Store) CloseTransaction(ctx context.Context, id int64, status domain.TransactionStatus, reason, eventID string, snapshot []byte) (*domain.Transaction, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2,
		    failure_reason = $3,
		    last_event_id = COALESCE(NULLIF($4, ''), last_event_id),
		    snapshot = COALESCE($5, snapshot),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+txColumns,
		id, status, reason, eventID, nullableJSON(snapshot))

	t, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}
	// Already terminal (or missing); report the stored row as-is.
	return s.GetTransactionByID(ctx, id)
}

// CreditTransaction applies the transaction amount to the owner's balance
// exactly once. The user row lock is the account-scoped exclusive lock; it
// is taken before the transaction row lock everywhere, and held across the
// credited re-check and the balance read-modify-write.
func (s *Store) CreditTransaction(ctx context.Context, id int64, eventID string, snapshot []byte) (*domain.Transaction, bool, error) {
	dbTx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = dbTx.Rollback(ctx) }()

	var userID int64
	err = dbTx.QueryRow(ctx,
		`SELECT user_id FROM payment_transactions WHERE id = $1`, id).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, err
	}

	// Account lock first, then the transaction row.
	var balanceStr string
	err = dbTx.QueryRow(ctx,
		`SELECT balance::text FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, domain.ErrNotFound
		}
		return nil, false, err
	}

	row := dbTx.QueryRow(ctx,
		`SELECT `+txColumns+` FROM payment_transactions WHERE id = $1 FOR UPDATE`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return nil, false, err
	}
	if t == nil {
		return nil, false, domain.ErrNotFound
	}

	// Re-check inside the lock: concurrent deliveries of the same outcome
	// must converge to a single credit.
	if t.Credited {
		return t, false, nil
	}

	if _, err = dbTx.Exec(ctx,
		`UPDATE users SET balance = balance + $1::numeric WHERE id = $2`,
		t.Amount.String(), userID); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	row = dbTx.QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2,
		    credited = true,
		    credited_at = $3,
		    failure_reason = '',
		    last_event_id = COALESCE(NULLIF($4, ''), last_event_id),
		    snapshot = COALESCE($5, snapshot),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+txColumns,
		id, domain.StatusSucceeded, now, eventID, nullableJSON(snapshot))
	t, err = scanTransaction(row)
	if err != nil {
		return nil, false, err
	}

	if err = dbTx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// GetBalance returns the account balance, zero for unknown accounts
func (s *Store) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balanceStr string
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM users WHERE id = $1), 0)::text`,
		userID).Scan(&balanceStr)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(balanceStr)
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t, err := scanTransactionValues(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTransactionValues(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amountStr string
	var creditedAt *time.Time
	var snapshot []byte

	if err := row.Scan(
		&t.ID, &t.UserID, &t.SessionID, &t.PaymentIntentID, &amountStr, &t.Currency,
		&t.Status, &t.Credited, &creditedAt, &t.LastEventID, &t.FailureReason, &snapshot,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}
	t.Amount = amount
	t.CreditedAt = creditedAt
	t.Snapshot = snapshot
	return &t, nil
}

// nullableJSON maps an empty snapshot to SQL NULL so COALESCE keeps the
// previous value
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ storage.Store = (*Store)(nil)

package memory

import (
	"context"
	"sync"
	"time"

	"avtoborsa/internal/domain"
	"avtoborsa/internal/storage"

	"github.com/shopspring/decimal"
)

// Store is an in-memory implementation of storage.Store. It mirrors the
// postgres locking discipline with a per-account mutex so engine behavior
// under concurrency can be exercised without a database.
type Store struct {
	mu        sync.Mutex
	seq       int64
	byID      map[int64]*domain.Transaction
	bySession map[string]int64
	balances  map[int64]decimal.Decimal

	accountMu  map[int64]*sync.Mutex
	accountsMu sync.Mutex // protects accountMu itself
}

func NewStore() *Store {
	return &Store{
		byID:      make(map[int64]*domain.Transaction),
		bySession: make(map[string]int64),
		balances:  make(map[int64]decimal.Decimal),
		accountMu: make(map[int64]*sync.Mutex),
	}
}

func (s *Store) accountLock(userID int64) *sync.Mutex {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()
	if _, ok := s.accountMu[userID]; !ok {
		s.accountMu[userID] = &sync.Mutex{}
	}
	return s.accountMu[userID]
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bySession[t.SessionID]; ok {
		return domain.ErrSessionExists
	}

	s.seq++
	now := time.Now().UTC()
	t.ID = s.seq
	t.CreatedAt = now
	t.UpdatedAt = now

	stored := cloneTransaction(t)
	s.byID[t.ID] = stored
	s.bySession[t.SessionID] = t.ID
	return nil
}

func (s *Store) GetTransactionByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(t), nil
}

func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bySession[sessionID]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(s.byID[id]), nil
}

func (s *Store) ListTransactionsByUser(ctx context.Context, userID int64, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	// iterate newest first: ids are assigned in creation order
	for id := s.seq; id > 0 && (limit <= 0 || len(out) < limit); id-- {
		if t, ok := s.byID[id]; ok && t.UserID == userID {
			out = append(out, *cloneTransaction(t))
		}
	}
	return out, nil
}

func (s *Store) RefreshSnapshot(ctx context.Context, id int64, eventID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if len(snapshot) > 0 {
		t.Snapshot = append([]byte(nil), snapshot...)
	}
	if eventID != "" {
		t.LastEventID = eventID
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CloseTransaction(ctx context.Context, id int64, status domain.TransactionStatus, reason, eventID string, snapshot []byte) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status != domain.StatusPending {
		return cloneTransaction(t), nil
	}

	t.Status = status
	t.FailureReason = reason
	if eventID != "" {
		t.LastEventID = eventID
	}
	if len(snapshot) > 0 {
		t.Snapshot = append([]byte(nil), snapshot...)
	}
	t.UpdatedAt = time.Now().UTC()
	return cloneTransaction(t), nil
}

func (s *Store) CreditTransaction(ctx context.Context, id int64, eventID string, snapshot []byte) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	t, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil, false, domain.ErrNotFound
	}
	userID := t.UserID
	s.mu.Unlock()

	// Account lock first, same ordering as the postgres store
	lock := s.accountLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	t = s.byID[id]
	if t.Credited {
		return cloneTransaction(t), false, nil
	}

	s.balances[userID] = s.balances[userID].Add(t.Amount)

	now := time.Now().UTC()
	t.Status = domain.StatusSucceeded
	t.Credited = true
	t.CreditedAt = &now
	t.FailureReason = ""
	if eventID != "" {
		t.LastEventID = eventID
	}
	if len(snapshot) > 0 {
		t.Snapshot = append([]byte(nil), snapshot...)
	}
	t.UpdatedAt = now
	return cloneTransaction(t), true, nil
}

func (s *Store) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

// SetBalance seeds an account balance, for tests and local tooling
func (s *Store) SetBalance(userID int64, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	cp := *t
	if t.CreditedAt != nil {
		at := *t.CreditedAt
		cp.CreditedAt = &at
	}
	if t.Snapshot != nil {
		cp.Snapshot = append([]byte(nil), t.Snapshot...)
	}
	return &cp
}

var _ storage.Store = (*Store)(nil)

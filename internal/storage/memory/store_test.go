package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"avtoborsa/internal/domain"

	"github.com/shopspring/decimal"
)

func newPending(t *testing.T, s *Store, userID int64, sessionID, amount string) *domain.Transaction {
	t.Helper()
	d, err := decimal.NewFromString(amount)
	if err != nil {
		t.Fatalf("bad amount %q: %v", amount, err)
	}
	tx := &domain.Transaction{
		UserID:    userID,
		SessionID: sessionID,
		Amount:    d,
		Currency:  "eur",
		Status:    domain.StatusPending,
	}
	if err := s.CreateTransaction(context.Background(), tx); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	return tx
}

func TestCreateTransaction_DuplicateSession(t *testing.T) {
	s := NewStore()
	newPending(t, s, 1, "cs_1", "10.00")

	err := s.CreateTransaction(context.Background(), &domain.Transaction{
		UserID: 2, SessionID: "cs_1", Amount: decimal.NewFromInt(5), Status: domain.StatusPending,
	})
	if !errors.Is(err, domain.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestGetTransaction_MissReturnsNil(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.GetTransactionBySession(ctx, "cs_missing")
	if err != nil || tx != nil {
		t.Fatalf("expected nil, nil; got %v, %v", tx, err)
	}
	tx, err = s.GetTransactionByID(ctx, 99)
	if err != nil || tx != nil {
		t.Fatalf("expected nil, nil; got %v, %v", tx, err)
	}
}

func TestCreditTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newPending(t, s, 1, "cs_1", "25.50")

	credited, creditedNow, err := s.CreditTransaction(ctx, tx.ID, "evt_1", []byte(`{"id":"cs_1"}`))
	if err != nil {
		t.Fatalf("CreditTransaction: %v", err)
	}
	if !creditedNow {
		t.Fatal("first credit must report creditedNow")
	}
	if credited.Status != domain.StatusSucceeded || !credited.Credited || credited.CreditedAt == nil {
		t.Fatalf("unexpected state: %+v", credited)
	}
	if credited.LastEventID != "evt_1" {
		t.Fatalf("last_event_id = %q", credited.LastEventID)
	}

	balance, _ := s.GetBalance(ctx, 1)
	if !balance.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("balance = %s, want 25.50", balance)
	}

	// second call is a no-op
	_, creditedNow, err = s.CreditTransaction(ctx, tx.ID, "evt_2", nil)
	if err != nil {
		t.Fatalf("second credit: %v", err)
	}
	if creditedNow {
		t.Fatal("second credit must be a no-op")
	}
	balance, _ = s.GetBalance(ctx, 1)
	if !balance.Equal(decimal.RequireFromString("25.50")) {
		t.Fatalf("balance after no-op = %s, want 25.50", balance)
	}
}

func TestCreditTransaction_Concurrent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newPending(t, s, 1, "cs_1", "100.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	creditedCount := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, creditedNow, err := s.CreditTransaction(ctx, tx.ID, "", nil)
			if err != nil {
				t.Errorf("CreditTransaction: %v", err)
				return
			}
			if creditedNow {
				mu.Lock()
				creditedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if creditedCount != 1 {
		t.Fatalf("creditedNow reported %d times, want 1", creditedCount)
	}
	balance, _ := s.GetBalance(ctx, 1)
	if !balance.Equal(decimal.RequireFromString("100.00")) {
		t.Fatalf("balance = %s, want exactly 100.00", balance)
	}
}

func TestCloseTransaction(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newPending(t, s, 1, "cs_1", "10.00")

	closed, err := s.CloseTransaction(ctx, tx.ID, domain.StatusCancelled, "checkout session expired", "evt_1", nil)
	if err != nil {
		t.Fatalf("CloseTransaction: %v", err)
	}
	if closed.Status != domain.StatusCancelled || closed.FailureReason != "checkout session expired" {
		t.Fatalf("unexpected state: %+v", closed)
	}

	// closing again with a different status leaves the terminal state alone
	closed, err = s.CloseTransaction(ctx, tx.ID, domain.StatusFailed, "other", "evt_2", nil)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closed.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, terminal state must not change", closed.Status)
	}
}

func TestListTransactionsByUser(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	newPending(t, s, 1, "cs_1", "1.00")
	newPending(t, s, 2, "cs_2", "2.00")
	newPending(t, s, 1, "cs_3", "3.00")
	newPending(t, s, 1, "cs_4", "4.00")

	list, err := s.ListTransactionsByUser(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListTransactionsByUser: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	// newest first
	if list[0].SessionID != "cs_4" || list[1].SessionID != "cs_3" {
		t.Fatalf("unexpected order: %s, %s", list[0].SessionID, list[1].SessionID)
	}
}

func TestReturnedTransactionsAreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	tx := newPending(t, s, 1, "cs_1", "10.00")

	got, _ := s.GetTransactionByID(ctx, tx.ID)
	got.Status = domain.StatusFailed
	got.Snapshot = []byte(`{"tampered":true}`)

	again, _ := s.GetTransactionByID(ctx, tx.ID)
	if again.Status != domain.StatusPending {
		t.Fatal("mutating a returned transaction must not affect the store")
	}
}

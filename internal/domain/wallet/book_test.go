package wallet_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/carbonex/carbonex-api/internal/domain/wallet"
)

func TestApplyAllOrNothing(t *testing.T) {
	book := wallet.NewBook()
	alice := uuid.New()
	bob := uuid.New()

	err := book.Apply([]wallet.Change{
		{Account: alice, Amount: 100, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
	})
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Second leg would overdraw bob, so the whole set must be rejected.
	err = book.Apply([]wallet.Change{
		{Account: alice, Amount: -50, Type: wallet.TransactionTypePayment, ReferenceID: "p1"},
		{Account: bob, Amount: -10, Type: wallet.TransactionTypePayment, ReferenceID: "p1"},
	})
	if !errors.Is(err, wallet.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := book.Balance(alice); got != 100 {
		t.Fatalf("rejected apply must not touch balances, alice=%d", got)
	}
	if got := len(book.Transactions(alice, 50, 0)); got != 1 {
		t.Fatalf("rejected apply must not record history, got %d rows", got)
	}
}

func TestApplyRejectsZeroAmount(t *testing.T) {
	book := wallet.NewBook()
	account := uuid.New()

	err := book.Apply([]wallet.Change{
		{Account: account, Amount: 0, Type: wallet.TransactionTypeDeposit, ReferenceID: "z"},
	})
	if !errors.Is(err, wallet.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestApplyStagesMultipleLegsPerAccount(t *testing.T) {
	book := wallet.NewBook()
	buyer := uuid.New()
	seller := uuid.New()

	if err := book.Apply([]wallet.Change{
		{Account: buyer, Amount: 40, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
	}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	// Payment out plus refund back in one set: the intermediate balance
	// never goes negative because all legs are staged together.
	err := book.Apply([]wallet.Change{
		{Account: buyer, Amount: -40, Type: wallet.TransactionTypePayment, ReferenceID: "p1"},
		{Account: seller, Amount: 30, Type: wallet.TransactionTypeSale, ReferenceID: "p1"},
		{Account: buyer, Amount: 10, Type: wallet.TransactionTypeRefund, ReferenceID: "p1"},
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := book.Balance(buyer); got != 10 {
		t.Fatalf("expected buyer balance 10, got %d", got)
	}
	if got := book.Balance(seller); got != 30 {
		t.Fatalf("expected seller balance 30, got %d", got)
	}
}

func TestRevertRemovesHistory(t *testing.T) {
	book := wallet.NewBook()
	account := uuid.New()

	if err := book.Apply([]wallet.Change{
		{Account: account, Amount: 100, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
	}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	changes := []wallet.Change{
		{Account: account, Amount: -25, Type: wallet.TransactionTypePayment, ReferenceID: "p1"},
	}
	if err := book.Apply(changes); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	book.Revert(changes)

	if got := book.Balance(account); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}
	rows := book.Transactions(account, 50, 0)
	if len(rows) != 1 || rows[0].Type != wallet.TransactionTypeDeposit {
		t.Fatalf("expected only the seed row to survive, got %+v", rows)
	}
}

func TestTransactionsNewestFirstWithPaging(t *testing.T) {
	book := wallet.NewBook()
	account := uuid.New()

	amounts := []int64{10, 20, 30}
	for i, amt := range amounts {
		if err := book.Apply([]wallet.Change{
			{Account: account, Amount: amt, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
		}); err != nil {
			t.Fatalf("deposit %d failed: %v", i, err)
		}
	}

	rows := book.Transactions(account, 2, 0)
	if len(rows) != 2 || rows[0].Amount != 30 || rows[1].Amount != 20 {
		t.Fatalf("expected newest first, got %+v", rows)
	}

	rows = book.Transactions(account, 2, 2)
	if len(rows) != 1 || rows[0].Amount != 10 {
		t.Fatalf("expected offset page with oldest row, got %+v", rows)
	}
}

func TestSeedReplacesBalances(t *testing.T) {
	book := wallet.NewBook()
	old := uuid.New()
	account := uuid.New()

	if err := book.Apply([]wallet.Change{
		{Account: old, Amount: 5, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
	}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	book.Seed(map[uuid.UUID]int64{account: 42})

	if got := book.Balance(account); got != 42 {
		t.Fatalf("expected seeded balance 42, got %d", got)
	}
	if got := book.Balance(old); got != 0 {
		t.Fatalf("seed must replace prior balances, got %d", got)
	}
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	book := wallet.NewBook()
	account := uuid.New()

	if err := book.Apply([]wallet.Change{
		{Account: account, Amount: 50, Type: wallet.TransactionTypeDeposit, ReferenceID: "seed"},
	}); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	const workers = 100
	var wg sync.WaitGroup
	var mu sync.Mutex
	spent := int64(0)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := book.Apply([]wallet.Change{
				{Account: account, Amount: -1, Type: wallet.TransactionTypePayment, ReferenceID: "spend"},
			})
			if err == nil {
				mu.Lock()
				spent++
				mu.Unlock()
			} else if !errors.Is(err, wallet.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if spent != 50 {
		t.Fatalf("expected exactly 50 successful spends, got %d", spent)
	}
	if got := book.Balance(account); got != 0 {
		t.Fatalf("expected zero balance, got %d", got)
	}
}

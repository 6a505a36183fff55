package wallet

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Book holds account balances and their transaction history in memory.
// It is the single authority for funds during operation; the Postgres
// repository only makes it durable. Apply is all-or-nothing, so callers
// can fold several legs of a payment into one indivisible step.
type Book struct {
	mu       sync.RWMutex
	balances map[uuid.UUID]int64
	history  map[uuid.UUID][]Transaction
}

func NewBook() *Book {
	return &Book{
		balances: make(map[uuid.UUID]int64),
		history:  make(map[uuid.UUID][]Transaction),
	}
}

// Seed replaces all balances, used when reloading state at startup.
// Transaction history is not replayed; it lives in the database.
func (b *Book) Seed(balances map[uuid.UUID]int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.balances = make(map[uuid.UUID]int64, len(balances))
	for account, balance := range balances {
		b.balances[account] = balance
	}
}

// Apply validates every change against current balances, then applies
// them all. No balance may go negative; on any violation nothing is
// recorded.
func (b *Book) Apply(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Check all legs before touching anything
	next := make(map[uuid.UUID]int64, len(changes))
	for _, c := range changes {
		if c.Amount == 0 {
			return ErrInvalidAmount
		}
		balance, staged := next[c.Account]
		if !staged {
			balance = b.balances[c.Account]
		}
		balance += c.Amount
		if balance < 0 {
			return ErrInsufficientFunds
		}
		next[c.Account] = balance
	}

	now := time.Now().UTC()
	for _, c := range changes {
		b.balances[c.Account] = next[c.Account]

		tx := Transaction{
			ID:        uuid.New(),
			AccountID: c.Account,
			Amount:    c.Amount,
			Type:      c.Type,
			CreatedAt: now,
		}
		if c.ReferenceID != "" {
			ref := c.ReferenceID
			tx.ReferenceID = &ref
		}
		b.history[c.Account] = append(b.history[c.Account], tx)
	}

	return nil
}

// Revert undoes a previously applied set of changes by applying the
// negated legs. Used when a persistence step fails after the book has
// already moved the funds.
func (b *Book) Revert(changes []Change) {
	negated := make([]Change, 0, len(changes))
	for _, c := range changes {
		negated = append(negated, Change{
			Account:     c.Account,
			Amount:      -c.Amount,
			Type:        c.Type,
			ReferenceID: c.ReferenceID,
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range negated {
		b.balances[c.Account] += c.Amount
		// Drop the matching history rows instead of appending
		// compensating ones; the failed operation never happened.
		rows := b.history[c.Account]
		for i := len(rows) - 1; i >= 0; i-- {
			sameRef := rows[i].ReferenceID != nil && *rows[i].ReferenceID == c.ReferenceID
			if sameRef && rows[i].Amount == -c.Amount && rows[i].Type == c.Type {
				b.history[c.Account] = append(rows[:i], rows[i+1:]...)
				break
			}
		}
	}
}

// Balance returns the current balance for an account; unknown accounts
// hold zero.
func (b *Book) Balance(account uuid.UUID) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[account]
}

// Transactions returns an account's history, newest first.
func (b *Book) Transactions(account uuid.UUID, limit, offset int) []Transaction {
	if limit <= 0 {
		limit = 20
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := b.history[account]
	out := make([]Transaction, 0, limit)
	for i := len(rows) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out
}

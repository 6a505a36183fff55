package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository makes the book durable. Balances and transaction rows are
// written in one database transaction so a reload always agrees with
// what the book reported at the time.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Persist writes a set of already-validated changes.
func (r *Repository) Persist(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}

	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	if err := PersistTx(ctx2, tx, changes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

// PersistTx writes changes inside an external transaction. Used by the
// credit repository so a purchase commits funds and record state
// together.
func PersistTx(ctx context.Context, tx *sqlx.Tx, changes []Change) error {
	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO account_wallets (account_id, balance, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (account_id)
			DO UPDATE SET balance = account_wallets.balance + $2, updated_at = now()
		`, c.Account, c.Amount); err != nil {
			return fmt.Errorf("%w: update wallet balance", ErrInternal)
		}

		var ref interface{}
		if c.ReferenceID != "" {
			ref = c.ReferenceID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (id, account_id, amount, type, reference_id)
			VALUES (gen_random_uuid(), $1, $2, $3, $4)
		`, c.Account, c.Amount, string(c.Type), ref); err != nil {
			return fmt.Errorf("%w: insert wallet transaction", ErrInternal)
		}
	}
	return nil
}

// LoadBalances returns every stored balance, used to seed the book at
// startup.
func (r *Repository) LoadBalances(ctx context.Context) (map[uuid.UUID]int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var rows []struct {
		AccountID uuid.UUID `db:"account_id"`
		Balance   int64     `db:"balance"`
	}
	if err := r.db.SelectContext(ctx2, &rows, `SELECT account_id, balance FROM account_wallets`); err != nil {
		return nil, fmt.Errorf("%w: load balances", ErrInternal)
	}

	balances := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		balances[row.AccountID] = row.Balance
	}
	return balances, nil
}

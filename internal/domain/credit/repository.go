package credit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/carbonex/carbonex-api/internal/domain/wallet"
)

const queryTimeout = 3 * time.Second

// Repository makes ledger state durable in Postgres. It implements
// Store: a whole Mutation — records, counter, funds legs and events —
// commits in one database transaction (the same discipline the wallet
// uses for balances).
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the schema when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credits (
			id             BIGINT PRIMARY KEY,
			owner_id       UUID NOT NULL,
			credit_type    TEXT NOT NULL,
			amount         BIGINT NOT NULL CHECK (amount >= 0),
			price_per_unit BIGINT NOT NULL CHECK (price_per_unit > 0),
			is_listed      BOOLEAN NOT NULL DEFAULT FALSE,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			id      INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
			next_id BIGINT NOT NULL
		)`,
		`INSERT INTO ledger_meta (id, next_id) VALUES (1, 1) ON CONFLICT (id) DO NOTHING`,
		`CREATE TABLE IF NOT EXISTS credit_events (
			id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name       TEXT NOT NULL,
			credit_id  BIGINT NOT NULL,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS account_wallets (
			account_id UUID PRIMARY KEY,
			balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS wallet_transactions (
			id           UUID PRIMARY KEY,
			account_id   UUID NOT NULL,
			amount       BIGINT NOT NULL,
			type         TEXT NOT NULL,
			reference_id TEXT,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	ctx2, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx2, stmt); err != nil {
			return fmt.Errorf("%w: migrate: %v", ErrInternal, err)
		}
	}
	return nil
}

// Apply implements Store.
func (r *Repository) Apply(ctx context.Context, m Mutation) error {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	for _, c := range m.Credits {
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO credits (id, owner_id, credit_type, amount, price_per_unit, is_listed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				owner_id       = EXCLUDED.owner_id,
				credit_type    = EXCLUDED.credit_type,
				amount         = EXCLUDED.amount,
				price_per_unit = EXCLUDED.price_per_unit,
				is_listed      = EXCLUDED.is_listed,
				updated_at     = EXCLUDED.updated_at
		`, c.ID, c.Owner, c.CreditType, c.Amount, c.PricePerUnit, c.IsListed, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("%w: upsert credit %d", ErrInternal, c.ID)
		}
	}

	if _, err := tx.ExecContext(ctx2, `UPDATE ledger_meta SET next_id = $1 WHERE id = 1`, m.NextID); err != nil {
		return fmt.Errorf("%w: update next id", ErrInternal)
	}

	if err := wallet.PersistTx(ctx2, tx, m.Funds); err != nil {
		return err
	}

	for _, ev := range m.Events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("%w: marshal event payload", ErrInternal)
		}
		if _, err := tx.ExecContext(ctx2, `
			INSERT INTO credit_events (name, credit_id, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, string(ev.Name), ev.CreditID, payload, ev.At); err != nil {
			return fmt.Errorf("%w: insert event", ErrInternal)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}
	return nil
}

// Load returns every credit record plus the next-id counter so the
// in-memory ledger can be rebuilt after a restart.
func (r *Repository) Load(ctx context.Context) ([]Credit, int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	credits := make([]Credit, 0)
	if err := r.db.SelectContext(ctx2, &credits, `
		SELECT id, owner_id, credit_type, amount, price_per_unit, is_listed, created_at, updated_at
		FROM credits
		ORDER BY id
	`); err != nil {
		return nil, 0, fmt.Errorf("%w: load credits", ErrInternal)
	}

	var nextID int64
	err := r.db.GetContext(ctx2, &nextID, `SELECT next_id FROM ledger_meta WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		nextID = 1
	} else if err != nil {
		return nil, 0, fmt.Errorf("%w: load next id", ErrInternal)
	}

	return credits, nextID, nil
}

package credit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Credit is a fungible credit record in the registry. IDs are assigned
// sequentially from 1 and never reused; 0 means "does not exist".
// Records are never deleted — a fully purchased or fully burned credit
// persists with Amount 0.
type Credit struct {
	ID           int64     `db:"id" json:"id"`
	Owner        uuid.UUID `db:"owner_id" json:"owner_id"`
	CreditType   string    `db:"credit_type" json:"credit_type"`
	Amount       int64     `db:"amount" json:"amount"`
	PricePerUnit int64     `db:"price_per_unit" json:"price_per_unit"`
	IsListed     bool      `db:"is_listed" json:"is_listed"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Summary is the compact view of a credit record.
type Summary struct {
	CreditType   string    `json:"credit_type"`
	Owner        uuid.UUID `json:"owner_id"`
	Amount       int64     `json:"amount"`
	PricePerUnit int64     `json:"price_per_unit"`
	IsListed     bool      `json:"is_listed"`
}

func (c *Credit) Summary() Summary {
	return Summary{
		CreditType:   c.CreditType,
		Owner:        c.Owner,
		Amount:       c.Amount,
		PricePerUnit: c.PricePerUnit,
		IsListed:     c.IsListed,
	}
}

// Draft describes a credit to be listed, either alone or as a batch
// element.
type Draft struct {
	CreditType   string `json:"credit_type" validate:"required,credit_type"`
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	PricePerUnit int64  `json:"price_per_unit" validate:"required,gt=0"`
}

func (d Draft) validate() error {
	if strings.TrimSpace(d.CreditType) == "" {
		return ErrInvalidType
	}
	if d.Amount <= 0 {
		return ErrInvalidAmount
	}
	if d.PricePerUnit <= 0 {
		return ErrInvalidPrice
	}
	return nil
}

package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Service struct {
	book *Book
	repo *Repository // nil when running memory-only
}

func NewService(book *Book, repo *Repository) *Service {
	return &Service{book: book, repo: repo}
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) int64 {
	return s.book.Balance(accountID)
}

func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) []Transaction {
	return s.book.Transactions(accountID, limit, offset)
}

// TopUp credits an account. Stands in for the external settlement rail
// that funds buyer accounts.
func (s *Service) TopUp(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	changes := []Change{{
		Account:     accountID,
		Amount:      amount,
		Type:        TransactionTypeDeposit,
		ReferenceID: referenceID,
	}}

	if err := s.book.Apply(changes); err != nil {
		return err
	}

	if s.repo != nil {
		if err := s.repo.Persist(ctx, changes); err != nil {
			s.book.Revert(changes)
			return err
		}
	}

	log.Info().Str("account_id", accountID.String()).Int64("amount", amount).Str("reference_id", referenceID).Msg("wallet topup applied")
	return nil
}

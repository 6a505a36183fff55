package credit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service fronts the ledger for the transport layer: it delegates to
// the state machine and adds structured logging around mutations.
type Service struct {
	ledger *Ledger
}

func NewService(ledger *Ledger) *Service {
	return &Service{ledger: ledger}
}

func (s *Service) Create(ctx context.Context, caller uuid.UUID, draft Draft) (int64, error) {
	id, err := s.ledger.Create(ctx, caller, draft)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("credit_id", id).Str("owner_id", caller.String()).Str("credit_type", draft.CreditType).Int64("amount", draft.Amount).Int64("price_per_unit", draft.PricePerUnit).Msg("credit listed")
	return id, nil
}

func (s *Service) CreateBatch(ctx context.Context, caller uuid.UUID, drafts []Draft) ([]int64, error) {
	ids, err := s.ledger.CreateBatch(ctx, caller, drafts)
	if err != nil {
		return nil, err
	}
	log.Info().Int("count", len(ids)).Str("owner_id", caller.String()).Msg("credit batch listed")
	return ids, nil
}

func (s *Service) Relist(ctx context.Context, caller uuid.UUID, id int64, newPrice int64) error {
	if err := s.ledger.Relist(ctx, caller, id, newPrice); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Int64("price_per_unit", newPrice).Msg("credit relisted")
	return nil
}

func (s *Service) Delist(ctx context.Context, caller uuid.UUID, id int64) error {
	if err := s.ledger.Delist(ctx, caller, id); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Msg("credit delisted")
	return nil
}

func (s *Service) UpdatePrice(ctx context.Context, caller uuid.UUID, id int64, newPrice int64) error {
	if err := s.ledger.UpdatePrice(ctx, caller, id, newPrice); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Int64("price_per_unit", newPrice).Msg("credit price updated")
	return nil
}

func (s *Service) UpdateType(ctx context.Context, caller uuid.UUID, id int64, newType string) error {
	if err := s.ledger.UpdateType(ctx, caller, id, newType); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Str("credit_type", newType).Msg("credit type updated")
	return nil
}

func (s *Service) Purchase(ctx context.Context, buyer uuid.UUID, id int64, amount, payment int64) error {
	if err := s.ledger.Purchase(ctx, buyer, id, amount, payment); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Str("buyer_id", buyer.String()).Int64("amount", amount).Int64("payment", payment).Msg("credit purchased")
	return nil
}

func (s *Service) TransferOwnership(ctx context.Context, caller uuid.UUID, id int64, to uuid.UUID) error {
	if err := s.ledger.TransferOwnership(ctx, caller, id, to); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Str("from", caller.String()).Str("to", to.String()).Msg("credit ownership transferred")
	return nil
}

func (s *Service) Burn(ctx context.Context, caller uuid.UUID, id int64, amount int64) error {
	if err := s.ledger.Burn(ctx, caller, id, amount); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Int64("amount", amount).Msg("credit burned")
	return nil
}

func (s *Service) IncreaseAmount(ctx context.Context, caller uuid.UUID, id int64, addAmount int64) error {
	if err := s.ledger.IncreaseAmount(ctx, caller, id, addAmount); err != nil {
		return err
	}
	log.Info().Int64("credit_id", id).Int64("added", addAmount).Msg("credit amount increased")
	return nil
}

func (s *Service) Pause(caller uuid.UUID) error {
	if err := s.ledger.Pause(caller); err != nil {
		return err
	}
	log.Warn().Str("admin_id", caller.String()).Msg("ledger paused")
	return nil
}

func (s *Service) Unpause(caller uuid.UUID) error {
	if err := s.ledger.Unpause(caller); err != nil {
		return err
	}
	log.Warn().Str("admin_id", caller.String()).Msg("ledger unpaused")
	return nil
}

func (s *Service) Withdraw(ctx context.Context, caller uuid.UUID) (int64, error) {
	amount, err := s.ledger.Withdraw(ctx, caller)
	if err != nil {
		return 0, err
	}
	log.Info().Str("admin_id", caller.String()).Int64("amount", amount).Msg("registry balance withdrawn")
	return amount, nil
}

// Queries pass straight through; they take no caller and mutate
// nothing.

func (s *Service) Get(id int64) (Credit, error)        { return s.ledger.Get(id) }
func (s *Service) GetSummary(id int64) (Summary, error) { return s.ledger.GetSummary(id) }
func (s *Service) AllIDs() []int64                      { return s.ledger.AllIDs() }
func (s *Service) IDsByOwner(owner uuid.UUID) []int64   { return s.ledger.IDsByOwner(owner) }
func (s *Service) ListedIDs() []int64                   { return s.ledger.ListedIDs() }
func (s *Service) IDsByType(t string) []int64           { return s.ledger.IDsByType(t) }
func (s *Service) IDsByOwnerAndType(owner uuid.UUID, t string) []int64 {
	return s.ledger.IDsByOwnerAndType(owner, t)
}
func (s *Service) ListedDetails() []Credit                    { return s.ledger.ListedDetails() }
func (s *Service) TotalValueByOwner(owner uuid.UUID) int64    { return s.ledger.TotalValueByOwner(owner) }
func (s *Service) TotalListedValue() int64                    { return s.ledger.TotalListedValue() }
func (s *Service) Paused() bool                               { return s.ledger.Paused() }

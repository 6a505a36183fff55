package credit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carbonex/carbonex-api/internal/domain/wallet"
)

// FundsBook moves funds as part of a ledger mutation. The in-memory
// wallet book implements it; Apply is all-or-nothing.
type FundsBook interface {
	Apply(changes []wallet.Change) error
	Revert(changes []wallet.Change)
	Balance(account uuid.UUID) int64
}

// Mutation is the durable image of one ledger operation: the post-state
// of every touched record, the advanced id counter, the funds legs and
// the emitted events. The store writes it in a single transaction.
type Mutation struct {
	Credits []Credit
	NextID  int64
	Funds   []wallet.Change
	Events  []Event
}

// Store persists mutations. A mutation only takes effect in memory
// after the store accepts it, so funds and record state never diverge.
type Store interface {
	Apply(ctx context.Context, m Mutation) error
}

// Ledger owns the credit table and the next-id counter. Every mutating
// operation runs under one write lock, so the check-then-mutate
// sequence of a purchase is indivisible and concurrent requests
// serialize.
type Ledger struct {
	mu      sync.RWMutex
	credits map[int64]*Credit
	nextID  int64
	paused  bool

	admin  uuid.UUID
	system uuid.UUID

	book    FundsBook
	emitter *Emitter
	store   Store // nil when running memory-only
}

func NewLedger(book FundsBook, emitter *Emitter, store Store, adminID, systemID uuid.UUID) *Ledger {
	return &Ledger{
		credits: make(map[int64]*Credit),
		nextID:  1,
		admin:   adminID,
		system:  systemID,
		book:    book,
		emitter: emitter,
		store:   store,
	}
}

// Restore replaces the in-memory table from persisted state. Called
// once at startup, before the ledger serves requests.
func (l *Ledger) Restore(credits []Credit, nextID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credits = make(map[int64]*Credit, len(credits))
	for i := range credits {
		c := credits[i]
		l.credits[c.ID] = &c
	}
	if nextID < 1 {
		nextID = 1
	}
	l.nextID = nextID
}

// commit runs the shared tail of every mutation while the write lock is
// held: move funds, persist, then apply to memory and emit. On a
// persistence failure the funds are reverted and nothing is applied.
func (l *Ledger) commit(ctx context.Context, changed []*Credit, nextID int64, funds []wallet.Change, events []Event) error {
	if len(funds) > 0 {
		if err := l.book.Apply(funds); err != nil {
			return err
		}
	}

	if l.store != nil {
		m := Mutation{NextID: nextID, Funds: funds, Events: events}
		for _, c := range changed {
			m.Credits = append(m.Credits, *c)
		}
		if err := l.store.Apply(ctx, m); err != nil {
			if len(funds) > 0 {
				l.book.Revert(funds)
			}
			return fmt.Errorf("%w: persist mutation: %v", ErrInternal, err)
		}
	}

	for _, c := range changed {
		l.credits[c.ID] = c
	}
	l.nextID = nextID

	for _, ev := range events {
		l.emitter.Emit(ctx, ev)
	}
	return nil
}

// Create lists a new credit owned by the caller and returns its id.
func (l *Ledger) Create(ctx context.Context, caller uuid.UUID, draft Draft) (int64, error) {
	ids, err := l.CreateBatch(ctx, caller, []Draft{draft})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateBatch lists several credits at once. The whole batch fails on
// the first invalid element; ids come back in input order.
func (l *Ledger) CreateBatch(ctx context.Context, caller uuid.UUID, drafts []Draft) ([]int64, error) {
	if len(drafts) == 0 {
		return nil, ErrEmptyBatch
	}
	if caller == uuid.Nil {
		return nil, ErrNotOwner
	}
	for _, d := range drafts {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return nil, ErrPaused
	}

	now := time.Now().UTC()
	changed := make([]*Credit, 0, len(drafts))
	events := make([]Event, 0, len(drafts))
	ids := make([]int64, 0, len(drafts))
	nextID := l.nextID

	for _, d := range drafts {
		c := &Credit{
			ID:           nextID,
			Owner:        caller,
			CreditType:   strings.TrimSpace(d.CreditType),
			Amount:       d.Amount,
			PricePerUnit: d.PricePerUnit,
			IsListed:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		nextID++

		changed = append(changed, c)
		ids = append(ids, c.ID)
		events = append(events, newEvent(EventListed, c.ID, ListedPayload{
			ID:           c.ID,
			Owner:        c.Owner,
			CreditType:   c.CreditType,
			Amount:       c.Amount,
			PricePerUnit: c.PricePerUnit,
		}))
	}

	if err := l.commit(ctx, changed, nextID, nil, events); err != nil {
		return nil, err
	}
	return ids, nil
}

// Relist puts a delisted credit back on the market at a new price.
func (l *Ledger) Relist(ctx context.Context, caller uuid.UUID, id int64, newPrice int64) error {
	if newPrice <= 0 {
		return ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if cur.IsListed {
		return ErrAlreadyListed
	}
	if cur.Amount == 0 {
		return ErrDepleted
	}

	c := *cur
	c.PricePerUnit = newPrice
	c.IsListed = true
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, []Event{
		newEvent(EventRelisted, id, RelistedPayload{ID: id, PricePerUnit: newPrice}),
	})
}

// Delist takes a listed credit off the market. Allowed while paused so
// owners can always exit.
func (l *Ledger) Delist(ctx context.Context, caller uuid.UUID, id int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if !cur.IsListed {
		return ErrNotListed
	}

	c := *cur
	c.IsListed = false
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, []Event{
		newEvent(EventDelisted, id, DelistedPayload{ID: id, Owner: c.Owner}),
	})
}

// UpdatePrice replaces the price of a listed credit.
func (l *Ledger) UpdatePrice(ctx context.Context, caller uuid.UUID, id int64, newPrice int64) error {
	if newPrice <= 0 {
		return ErrInvalidPrice
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if !cur.IsListed {
		return ErrNotListed
	}

	oldPrice := cur.PricePerUnit
	c := *cur
	c.PricePerUnit = newPrice
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, []Event{
		newEvent(EventPriceUpdated, id, PriceUpdatedPayload{ID: id, OldPrice: oldPrice, NewPrice: newPrice}),
	})
}

// UpdateType replaces the credit's type label.
func (l *Ledger) UpdateType(ctx context.Context, caller uuid.UUID, id int64, newType string) error {
	newType = strings.TrimSpace(newType)
	if newType == "" {
		return ErrInvalidType
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}

	oldType := cur.CreditType
	c := *cur
	c.CreditType = newType
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, []Event{
		newEvent(EventTypeUpdated, id, TypeUpdatedPayload{ID: id, OldType: oldType, NewType: newType}),
	})
}

// Purchase fills a listing at its fixed price. The amount decrement,
// the possible ownership flip and all funds legs commit as one unit;
// a failed precondition leaves everything untouched. The supplied
// payment is drawn from the buyer's wallet, the total goes to the
// seller and any excess returns to the buyer as a refund.
func (l *Ledger) Purchase(ctx context.Context, buyer uuid.UUID, id int64, amount int64, payment int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}

	cur, ok := l.credits[id]
	if !ok {
		return ErrNotFound
	}
	if !cur.IsListed {
		return ErrNotListed
	}
	if buyer == cur.Owner {
		return ErrSelfPurchase
	}
	if amount > cur.Amount {
		return ErrInsufficientQuantity
	}
	if cur.PricePerUnit > 0 && amount > math.MaxInt64/cur.PricePerUnit {
		return ErrInvalidAmount
	}

	total := amount * cur.PricePerUnit
	if payment < total {
		return ErrInsufficientPayment
	}

	seller := cur.Owner
	c := *cur
	c.Amount -= amount
	if c.Amount == 0 {
		// Full depletion hands the empty record to the buyer and
		// delists it.
		c.Owner = buyer
		c.IsListed = false
	}
	c.UpdatedAt = time.Now().UTC()

	ref := fmt.Sprintf("purchase:%d:%s", id, uuid.New().String())
	funds := []wallet.Change{
		{Account: buyer, Amount: -payment, Type: wallet.TransactionTypePayment, ReferenceID: ref},
		{Account: seller, Amount: total, Type: wallet.TransactionTypeSale, ReferenceID: ref},
	}
	if excess := payment - total; excess > 0 {
		funds = append(funds, wallet.Change{
			Account: buyer, Amount: excess, Type: wallet.TransactionTypeRefund, ReferenceID: ref,
		})
	}

	return l.commit(ctx, []*Credit{&c}, l.nextID, funds, []Event{
		newEvent(EventPurchased, id, PurchasedPayload{
			ID:     id,
			Seller: seller,
			Buyer:  buyer,
			Amount: amount,
			Total:  total,
		}),
	})
}

// TransferOwnership hands a credit to another account and always
// delists it.
func (l *Ledger) TransferOwnership(ctx context.Context, caller uuid.UUID, id int64, to uuid.UUID) error {
	if to == uuid.Nil {
		return ErrInvalidRecipient
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if to == cur.Owner {
		return ErrInvalidRecipient
	}

	c := *cur
	c.Owner = to
	c.IsListed = false
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, []Event{
		newEvent(EventOwnershipTransferred, id, OwnershipTransferredPayload{ID: id, From: caller, To: to}),
	})
}

// Burn retires part or all of a credit's remaining amount. A silent
// mutation: no event is emitted.
func (l *Ledger) Burn(ctx context.Context, caller uuid.UUID, id int64, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if amount > cur.Amount {
		return ErrInsufficientQuantity
	}

	c := *cur
	c.Amount -= amount
	if c.Amount == 0 {
		c.IsListed = false
	}
	c.UpdatedAt = time.Now().UTC()

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, nil)
}

// IncreaseAmount replenishes a credit. A delisted credit comes back on
// the market at its retained price.
func (l *Ledger) IncreaseAmount(ctx context.Context, caller uuid.UUID, id int64, addAmount int64) error {
	if addAmount <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}

	cur, err := l.ownedBy(id, caller)
	if err != nil {
		return err
	}
	if addAmount > math.MaxInt64-cur.Amount {
		return ErrInvalidAmount
	}

	c := *cur
	c.Amount += addAmount
	relisted := false
	if !c.IsListed {
		c.IsListed = true
		relisted = true
	}
	c.UpdatedAt = time.Now().UTC()

	events := make([]Event, 0, 2)
	if relisted {
		events = append(events, newEvent(EventRelisted, id, RelistedPayload{ID: id, PricePerUnit: c.PricePerUnit}))
	}
	events = append(events, newEvent(EventAmountIncreased, id, AmountIncreasedPayload{ID: id, Added: addAmount, NewAmount: c.Amount}))

	return l.commit(ctx, []*Credit{&c}, l.nextID, nil, events)
}

// Pause blocks creation, purchase and replenishment. Owner exits
// (delist, transfer, burn) stay available while paused.
func (l *Ledger) Pause(caller uuid.UUID) error {
	if caller != l.admin {
		return ErrNotAdmin
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
	return nil
}

func (l *Ledger) Unpause(caller uuid.UUID) error {
	if caller != l.admin {
		return ErrNotAdmin
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	return nil
}

func (l *Ledger) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// Withdraw sweeps whatever balance sits on the registry's own account
// to the administrator. Sale proceeds are forwarded to sellers
// directly, so this is normally zero.
func (l *Ledger) Withdraw(ctx context.Context, caller uuid.UUID) (int64, error) {
	if caller != l.admin {
		return 0, ErrNotAdmin
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	amount := l.book.Balance(l.system)
	if amount == 0 {
		return 0, nil
	}

	ref := fmt.Sprintf("withdraw:%s", uuid.New().String())
	funds := []wallet.Change{
		{Account: l.system, Amount: -amount, Type: wallet.TransactionTypeWithdrawal, ReferenceID: ref},
		{Account: caller, Amount: amount, Type: wallet.TransactionTypeWithdrawal, ReferenceID: ref},
	}

	if err := l.commit(ctx, nil, l.nextID, funds, nil); err != nil {
		return 0, err
	}
	return amount, nil
}

// ownedBy looks up a credit and checks the caller owns it. Callers must
// hold the lock.
func (l *Ledger) ownedBy(id int64, caller uuid.UUID) (*Credit, error) {
	cur, ok := l.credits[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Owner != caller {
		return nil, ErrNotOwner
	}
	return cur, nil
}

// ─── Queries ────────────────────────────────────────────────────────

// Get returns the full record for an id.
func (l *Ledger) Get(id int64) (Credit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.credits[id]
	if !ok {
		return Credit{}, ErrNotFound
	}
	return *c, nil
}

// GetSummary returns the compact view for an id.
func (l *Ledger) GetSummary(id int64) (Summary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.credits[id]
	if !ok {
		return Summary{}, ErrNotFound
	}
	return c.Summary(), nil
}

// AllIDs returns every id ever created, ascending.
func (l *Ledger) AllIDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idsWhere(func(*Credit) bool { return true })
}

// IDsByOwner returns the caller-visible ids held by one account,
// ascending, regardless of listing state.
func (l *Ledger) IDsByOwner(owner uuid.UUID) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idsWhere(func(c *Credit) bool { return c.Owner == owner })
}

// ListedIDs returns the ids currently on the market, ascending.
func (l *Ledger) ListedIDs() []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idsWhere(func(c *Credit) bool { return c.IsListed })
}

// IDsByType returns ids whose type label matches exactly, ascending.
func (l *Ledger) IDsByType(creditType string) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idsWhere(func(c *Credit) bool { return c.CreditType == creditType })
}

// IDsByOwnerAndType combines the owner and type filters.
func (l *Ledger) IDsByOwnerAndType(owner uuid.UUID, creditType string) []int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.idsWhere(func(c *Credit) bool { return c.Owner == owner && c.CreditType == creditType })
}

// ListedDetails returns full records of every listed credit, ascending
// by id.
func (l *Ledger) ListedDetails() []Credit {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Credit, 0)
	for _, id := range l.idsWhere(func(c *Credit) bool { return c.IsListed }) {
		out = append(out, *l.credits[id])
	}
	return out
}

// TotalValueByOwner sums amount times price over every credit an
// account holds.
func (l *Ledger) TotalValueByOwner(owner uuid.UUID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, c := range l.credits {
		if c.Owner == owner {
			total += c.Amount * c.PricePerUnit
		}
	}
	return total
}

// TotalListedValue sums amount times price over every listed credit.
func (l *Ledger) TotalListedValue() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total int64
	for _, c := range l.credits {
		if c.IsListed {
			total += c.Amount * c.PricePerUnit
		}
	}
	return total
}

// idsWhere scans the whole table. Callers must hold at least the read
// lock.
func (l *Ledger) idsWhere(keep func(*Credit) bool) []int64 {
	ids := make([]int64, 0, len(l.credits))
	for id, c := range l.credits {
		if keep(c) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

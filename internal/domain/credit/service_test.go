package credit_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carbonex/carbonex-api/internal/domain/credit"
	"github.com/carbonex/carbonex-api/internal/domain/wallet"
)

func newTestService(t *testing.T) (*credit.Service, *credit.Emitter, *wallet.Book) {
	t.Helper()
	book := wallet.NewBook()
	emitter := credit.NewEmitter(nil)
	ledger := credit.NewLedger(book, emitter, nil, adminID, systemID)
	return credit.NewService(ledger), emitter, book
}

// drain collects events already delivered to the subscription channel.
func drain(ch <-chan credit.Event) []credit.Event {
	var out []credit.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func expectEvents(t *testing.T, ch <-chan credit.Event, want ...credit.EventName) []credit.Event {
	t.Helper()
	got := drain(ch)
	if len(got) != len(want) {
		t.Fatalf("expected %d events %v, got %d: %+v", len(want), want, len(got), got)
	}
	for i, ev := range got {
		if ev.Name != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], ev.Name)
		}
		if ev.At.IsZero() {
			t.Fatalf("event %d: zero timestamp", i)
		}
	}
	return got
}

func TestServiceEmitsLifecycleEvents(t *testing.T) {
	svc, emitter, book := newTestService(t)
	ch, cancel := emitter.Subscribe(64)
	defer cancel()

	owner := uuid.New()
	buyer := uuid.New()
	ctx := context.Background()

	id, err := svc.Create(ctx, owner, credit.Draft{CreditType: "Carbon", Amount: 10, PricePerUnit: 5})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	events := expectEvents(t, ch, credit.EventListed)
	listed, ok := events[0].Payload.(credit.ListedPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if listed.ID != id || listed.Owner != owner || listed.Amount != 10 {
		t.Fatalf("unexpected listed payload: %+v", listed)
	}

	if err := svc.UpdatePrice(ctx, owner, id, 7); err != nil {
		t.Fatalf("update price failed: %v", err)
	}
	events = expectEvents(t, ch, credit.EventPriceUpdated)
	price := events[0].Payload.(credit.PriceUpdatedPayload)
	if price.OldPrice != 5 || price.NewPrice != 7 {
		t.Fatalf("unexpected price payload: %+v", price)
	}

	if err := svc.UpdateType(ctx, owner, id, "Wind"); err != nil {
		t.Fatalf("update type failed: %v", err)
	}
	expectEvents(t, ch, credit.EventTypeUpdated)

	fund(t, book, buyer, 70)
	if err := svc.Purchase(ctx, buyer, id, 4, 28); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	events = expectEvents(t, ch, credit.EventPurchased)
	purchased := events[0].Payload.(credit.PurchasedPayload)
	if purchased.Seller != owner || purchased.Buyer != buyer || purchased.Total != 28 {
		t.Fatalf("unexpected purchase payload: %+v", purchased)
	}

	if err := svc.Delist(ctx, owner, id); err != nil {
		t.Fatalf("delist failed: %v", err)
	}
	expectEvents(t, ch, credit.EventDelisted)

	if err := svc.Relist(ctx, owner, id, 9); err != nil {
		t.Fatalf("relist failed: %v", err)
	}
	expectEvents(t, ch, credit.EventRelisted)

	if err := svc.TransferOwnership(ctx, owner, id, buyer); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	expectEvents(t, ch, credit.EventOwnershipTransferred)
}

func TestServiceBurnEmitsNothing(t *testing.T) {
	svc, emitter, _ := newTestService(t)

	owner := uuid.New()
	ctx := context.Background()

	id, err := svc.Create(ctx, owner, credit.Draft{CreditType: "Carbon", Amount: 10, PricePerUnit: 5})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	ch, cancel := emitter.Subscribe(64)
	defer cancel()

	if err := svc.Burn(ctx, owner, id, 10); err != nil {
		t.Fatalf("burn failed: %v", err)
	}
	if got := drain(ch); len(got) != 0 {
		t.Fatalf("burn must be silent, got %+v", got)
	}
}

func TestServiceIncreaseAmountRelistOrdering(t *testing.T) {
	svc, emitter, _ := newTestService(t)

	owner := uuid.New()
	ctx := context.Background()

	id, err := svc.Create(ctx, owner, credit.Draft{CreditType: "Carbon", Amount: 10, PricePerUnit: 5})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.Delist(ctx, owner, id); err != nil {
		t.Fatalf("delist failed: %v", err)
	}

	ch, cancel := emitter.Subscribe(64)
	defer cancel()

	// Replenishing a delisted credit relists it first, then reports the
	// new amount.
	if err := svc.IncreaseAmount(ctx, owner, id, 5); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	expectEvents(t, ch, credit.EventRelisted, credit.EventAmountIncreased)

	// A listed credit only reports the increase.
	if err := svc.IncreaseAmount(ctx, owner, id, 5); err != nil {
		t.Fatalf("increase failed: %v", err)
	}
	events := expectEvents(t, ch, credit.EventAmountIncreased)
	inc := events[0].Payload.(credit.AmountIncreasedPayload)
	if inc.Added != 5 || inc.NewAmount != 20 {
		t.Fatalf("unexpected increase payload: %+v", inc)
	}
}

func TestServiceFailedMutationEmitsNothing(t *testing.T) {
	svc, emitter, _ := newTestService(t)

	owner := uuid.New()
	ctx := context.Background()

	ch, cancel := emitter.Subscribe(64)
	defer cancel()

	if _, err := svc.Create(ctx, owner, credit.Draft{CreditType: "", Amount: 10, PricePerUnit: 5}); err == nil {
		t.Fatalf("expected create to fail")
	}
	if err := svc.Purchase(ctx, owner, 99, 1, 10); err == nil {
		t.Fatalf("expected purchase to fail")
	}
	if got := drain(ch); len(got) != 0 {
		t.Fatalf("failed mutations must not emit, got %+v", got)
	}
}

func TestServiceAdminControls(t *testing.T) {
	svc, _, book := newTestService(t)
	ctx := context.Background()

	if err := svc.Pause(uuid.New()); err == nil {
		t.Fatalf("pause must require the admin")
	}
	if err := svc.Pause(adminID); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if !svc.Paused() {
		t.Fatalf("expected paused")
	}
	if err := svc.Unpause(adminID); err != nil {
		t.Fatalf("unpause failed: %v", err)
	}
	if svc.Paused() {
		t.Fatalf("expected unpaused")
	}

	fund(t, book, systemID, 33)
	amount, err := svc.Withdraw(ctx, adminID)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if amount != 33 {
		t.Fatalf("expected 33 withdrawn, got %d", amount)
	}
}

func TestEmitterDropsWhenSubscriberFull(t *testing.T) {
	emitter := credit.NewEmitter(nil)
	ch, cancel := emitter.Subscribe(1)
	defer cancel()

	ctx := context.Background()
	emitter.Emit(ctx, credit.Event{Name: credit.EventListed, CreditID: 1, At: time.Now()})
	emitter.Emit(ctx, credit.Event{Name: credit.EventListed, CreditID: 2, At: time.Now()})

	got := drain(ch)
	if len(got) != 1 || got[0].CreditID != 1 {
		t.Fatalf("expected only the first event to land, got %+v", got)
	}
}

func TestEmitterCancelStopsDelivery(t *testing.T) {
	emitter := credit.NewEmitter(nil)
	ch, cancel := emitter.Subscribe(4)
	cancel()

	emitter.Emit(context.Background(), credit.Event{Name: credit.EventListed, CreditID: 1, At: time.Now()})

	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

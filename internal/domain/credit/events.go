package credit

import (
	"context"
	"encoding/json"
	"expvar"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// EventName identifies a domain event emitted after a successful
// mutation.
type EventName string

const (
	EventListed               EventName = "Listed"
	EventRelisted             EventName = "Relisted"
	EventDelisted             EventName = "Delisted"
	EventPriceUpdated         EventName = "PriceUpdated"
	EventTypeUpdated          EventName = "TypeUpdated"
	EventPurchased            EventName = "Purchased"
	EventOwnershipTransferred EventName = "OwnershipTransferred"
	EventAmountIncreased      EventName = "AmountIncreased"
)

// EventsChannel is the Redis Pub/Sub channel events are mirrored to.
const EventsChannel = "credits:events"

var (
	eventsSentTotal    = expvar.NewInt("credit_events_sent_total")
	eventsDroppedTotal = expvar.NewInt("credit_events_dropped_total")
)

// Event is one entry of the append-only event log external consumers
// (indexers, UIs) follow.
type Event struct {
	Name     EventName   `json:"name"`
	CreditID int64       `json:"credit_id"`
	At       time.Time   `json:"at"`
	Payload  interface{} `json:"payload"`
}

type ListedPayload struct {
	ID           int64     `json:"id"`
	Owner        uuid.UUID `json:"owner_id"`
	CreditType   string    `json:"credit_type"`
	Amount       int64     `json:"amount"`
	PricePerUnit int64     `json:"price_per_unit"`
}

type RelistedPayload struct {
	ID           int64 `json:"id"`
	PricePerUnit int64 `json:"price_per_unit"`
}

type DelistedPayload struct {
	ID    int64     `json:"id"`
	Owner uuid.UUID `json:"owner_id"`
}

type PriceUpdatedPayload struct {
	ID       int64 `json:"id"`
	OldPrice int64 `json:"old_price"`
	NewPrice int64 `json:"new_price"`
}

type TypeUpdatedPayload struct {
	ID      int64  `json:"id"`
	OldType string `json:"old_type"`
	NewType string `json:"new_type"`
}

type PurchasedPayload struct {
	ID     int64     `json:"id"`
	Seller uuid.UUID `json:"seller_id"`
	Buyer  uuid.UUID `json:"buyer_id"`
	Amount int64     `json:"amount"`
	Total  int64     `json:"total"`
}

type OwnershipTransferredPayload struct {
	ID   int64     `json:"id"`
	From uuid.UUID `json:"from"`
	To   uuid.UUID `json:"to"`
}

type AmountIncreasedPayload struct {
	ID        int64 `json:"id"`
	Added     int64 `json:"added"`
	NewAmount int64 `json:"new_amount"`
}

func newEvent(name EventName, creditID int64, payload interface{}) Event {
	return Event{Name: name, CreditID: creditID, At: time.Now().UTC(), Payload: payload}
}

// Emitter fans events out to in-process subscribers and, when Redis is
// configured, mirrors them to a Pub/Sub channel so other instances and
// external indexers see the same stream.
type Emitter struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	nextSub int

	redis *redis.Client
}

// NewEmitter creates an emitter. redisClient may be nil.
func NewEmitter(redisClient *redis.Client) *Emitter {
	return &Emitter{
		subs:  make(map[int]chan Event),
		redis: redisClient,
	}
}

// Subscribe registers a buffered event channel. The returned cancel
// func must be called when the consumer goes away.
func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

// Emit delivers an event to every subscriber. Slow subscribers drop
// events rather than block the ledger.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	e.mu.RLock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
			eventsSentTotal.Add(1)
		default:
			eventsDroppedTotal.Add(1)
		}
	}
	e.mu.RUnlock()

	if e.redis != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("event", string(ev.Name)).Msg("Failed to marshal event")
			return
		}
		if err := e.redis.Publish(ctx, EventsChannel, payload).Err(); err != nil {
			log.Error().Err(err).Str("event", string(ev.Name)).Msg("Failed to publish event to Redis")
		}
	}
}

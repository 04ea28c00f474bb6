// Package realtime is the push channel dashboards subscribe to: rooms,
// events and the transports that carry them.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/enum"
)

// Handler receives an event payload. Handlers must be idempotent and must
// tolerate events arriving out of order.
type Handler func(payload json.RawMessage)

// AckFunc reports the outcome of a Join. err is nil on success.
type AckFunc func(err error)

// Channel is one push connection owned by one dashboard.
type Channel interface {
	// Connect is idempotent.
	Connect(ctx context.Context) error
	// Join subscribes to room. Joined rooms are re-joined after a reconnect.
	Join(ctx context.Context, room string, ack AckFunc)
	// On registers h for event. Several handlers per event are allowed.
	On(event string, h Handler)
	Connected() bool
	// Disconnect is safe to call on a channel that never connected.
	Disconnect() error
}

// Envelope is the JSON frame exchanged with the websocket hub.
type Envelope struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// --- Rooms ---

func KitchenRoom(restaurantID uuid.UUID) string {
	return enum.RoomKitchen + ":" + restaurantID.String()
}

func CashierRoom(restaurantID uuid.UUID) string {
	return enum.RoomCashier + ":" + restaurantID.String()
}

func OrderRoom(orderID uuid.UUID) string {
	return enum.RoomOrder + ":" + orderID.String()
}

// ParseRoom splits "kind:id" and checks the kind is known and id is a uuid.
func ParseRoom(room string) (kind string, id uuid.UUID, ok bool) {
	kind, rest, found := strings.Cut(room, ":")
	if !found {
		return "", uuid.Nil, false
	}
	switch kind {
	case enum.RoomKitchen, enum.RoomCashier, enum.RoomOrder:
	default:
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, false
	}
	return kind, id, true
}

// RoutingKey maps a room to its AMQP topic routing key ("kitchen:R" → "kitchen.R").
func RoutingKey(room string) string {
	return strings.Replace(room, ":", ".", 1)
}

// --- Dispatch ---

// dispatcher fans events out to registered handlers.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func (d *dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string][]Handler)
	}
	d.handlers[event] = append(d.handlers[event], h)
}

func (d *dispatcher) dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[event]...)
	d.mu.RUnlock()
	for _, h := range hs {
		h(payload)
	}
}

func ack(fn AckFunc, err error) {
	if fn != nil {
		fn(err)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"go.uber.org/zap"
)

// ErrHubStopped is returned for messages published after Run returned.
var ErrHubStopped = errors.New("websocket hub stopped")

// subscription is a client's request to join a room. A non-empty denied
// means the join was refused and only the ack is sent.
type subscription struct {
	client *Client
	room   string
	ref    string
	denied string
}

// roomEvent is an internal struct for routing a frame to one room
type roomEvent struct {
	Room    string
	Message []byte
}

// Hub maintains the set of active clients and broadcasts messages to the
// rooms they joined.
type Hub struct {
	// Joined clients by room name
	rooms map[string]map[*Client]bool

	// Connected clients
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	join       chan subscription

	// Outbound messages to broadcast
	broadcast chan roomEvent

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe room access
	mu sync.RWMutex

	logger *zap.Logger
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan subscription),
		broadcast:  make(chan roomEvent, 256),
		done:       make(chan struct{}),
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's main loop until ctx is done.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.dropLocked(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.dropLocked(client)
			}
			h.mu.Unlock()

		case sub := <-h.join:
			h.mu.Lock()
			if !h.clients[sub.client] {
				h.mu.Unlock()
				continue
			}
			if sub.denied == "" {
				if h.rooms[sub.room] == nil {
					h.rooms[sub.room] = make(map[*Client]bool)
				}
				h.rooms[sub.room][sub.client] = true
				sub.client.rooms[sub.room] = true
			}
			ack, _ := json.Marshal(realtime.Envelope{Type: enum.EventAck, Room: sub.room, Ref: sub.ref, Error: sub.denied})
			h.sendLocked(sub.client, ack)
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[event.Room] {
				h.sendLocked(client, event.Message)
			}
			h.mu.Unlock()
		}
	}
}

// sendLocked queues message for client, dropping a client whose send buffer
// is full. Caller holds h.mu.
func (h *Hub) sendLocked(client *Client, message []byte) {
	select {
	case client.send <- message:
	default:
		h.logger.Warn("dropping slow client", zap.String("user_id", client.userID()))
		h.dropLocked(client)
	}
}

// dropLocked removes client from every room and closes its send channel.
func (h *Hub) dropLocked(client *Client) {
	for room := range client.rooms {
		if clients, ok := h.rooms[room]; ok {
			delete(clients, client)
			// Clean up empty rooms
			if len(clients) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	client.rooms = map[string]bool{}
	delete(h.clients, client)
	close(client.send)
}

// add registers client. It reports false once the hub has stopped.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// remove unregisters client. It never blocks after the hub has stopped.
func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// queueJoin queues a join. It reports false once the hub has stopped.
func (h *Hub) queueJoin(sub subscription) bool {
	select {
	case h.join <- sub:
		return true
	case <-h.done:
		return false
	}
}

// BroadcastToRoom sends an event to all clients that joined room.
func (h *Hub) BroadcastToRoom(room string, env realtime.Envelope) error {
	env.Room = room
	message, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomEvent{Room: room, Message: message}:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Publish implements the order service's fan-out.
func (h *Hub) Publish(ctx context.Context, room, event string, payload []byte) error {
	message, err := json.Marshal(realtime.Envelope{Type: event, Room: room, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- roomEvent{Room: room, Message: message}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Members returns how many clients joined room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

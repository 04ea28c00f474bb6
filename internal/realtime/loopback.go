package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Loopback is an in-process Channel. Publish delivers synchronously to the
// handlers when the room is joined and the channel is connected.
type Loopback struct {
	dispatcher

	mu        sync.Mutex
	connected bool
	rooms     map[string]bool
	joinErr   error
}

func NewLoopback() *Loopback {
	return &Loopback{rooms: make(map[string]bool)}
}

func (l *Loopback) Connect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = true
	return nil
}

func (l *Loopback) Join(_ context.Context, room string, fn AckFunc) {
	l.mu.Lock()
	err := l.joinErr
	if err == nil {
		l.rooms[room] = true
	}
	l.mu.Unlock()
	ack(fn, err)
}

func (l *Loopback) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Loopback) Disconnect() error {
	l.SetConnected(false)
	return nil
}

// SetConnected simulates the transport dropping or coming back.
func (l *Loopback) SetConnected(up bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = up
}

// FailJoins makes subsequent joins fail with err (nil restores).
func (l *Loopback) FailJoins(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joinErr = err
}

// Joined reports whether room has been joined.
func (l *Loopback) Joined(room string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rooms[room]
}

// Publish delivers event to the handlers if room is joined and the channel
// is up. It reports whether the event was delivered.
func (l *Loopback) Publish(room, event string, v any) (bool, error) {
	l.mu.Lock()
	deliver := l.connected && l.rooms[room]
	l.mu.Unlock()
	if !deliver {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}
	l.dispatch(event, raw)
	return true, nil
}

// Handlers reports how many handlers are registered for event.
func (l *Loopback) Handlers(event string) int {
	l.dispatcher.mu.RLock()
	defer l.dispatcher.mu.RUnlock()
	return len(l.dispatcher.handlers[event])
}

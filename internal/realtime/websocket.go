package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a frame to the hub.
	writeWait = 10 * time.Second

	// The hub pings every ~54s; a silent connection is dead after this.
	pongWait = 60 * time.Second

	// Maximum frame size accepted from the hub.
	maxMessageSize = 1 << 20
)

var errClosed = errors.New("realtime: connection closed")

// WebSocket is a Channel over a gorilla/websocket connection to the hub.
// After a read failure it goes disconnected and redials with exponential
// backoff, re-joining every room joined so far.
type WebSocket struct {
	dispatcher

	url        string
	dialer     *websocket.Dialer
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	connected atomic.Bool
	refs      atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	rooms   map[string]bool
	pending map[string]AckFunc
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex
}

// WebSocketOption configures a WebSocket.
type WebSocketOption func(*WebSocket)

// WithBackOff replaces the reconnect policy.
func WithBackOff(fn func() backoff.BackOff) WebSocketOption {
	return func(w *WebSocket) { w.newBackOff = fn }
}

func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(w *WebSocket) { w.dialer = d }
}

// NewWebSocket creates a channel for url (ws://host/ws?token=...).
func NewWebSocket(url string, logger *zap.Logger, opts ...WebSocketOption) *WebSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &WebSocket{
		url:     url,
		dialer:  websocket.DefaultDialer,
		logger:  logger.Named("realtime.ws"),
		rooms:   make(map[string]bool),
		pending: make(map[string]AckFunc),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Connect dials once and starts the read/reconnect loop. A failed first dial
// is returned as a transport error; the loop keeps retrying in the background.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		go w.run(runCtx, nil, done)
		return apperr.Transport(apperr.CodeNotConnected, err)
	}
	if !w.attach(runCtx, conn) {
		conn.Close()
		close(done)
		return nil
	}
	go w.run(runCtx, conn, done)
	return nil
}

func (w *WebSocket) Connected() bool { return w.connected.Load() }

// Join records room for re-joining and, when connected, sends a join frame.
// fn runs when the hub acks, or with an error if the join could not be sent.
func (w *WebSocket) Join(_ context.Context, room string, fn AckFunc) {
	w.mu.Lock()
	w.rooms[room] = true
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		ack(fn, apperr.Transport(apperr.CodeNotConnected, errClosed))
		return
	}
	w.sendJoin(conn, room, fn)
}

func (w *WebSocket) sendJoin(conn *websocket.Conn, room string, fn AckFunc) {
	ref := strconv.FormatUint(w.refs.Add(1), 10)
	w.mu.Lock()
	w.pending[ref] = fn
	w.mu.Unlock()

	if err := w.write(conn, Envelope{Type: enum.EventJoin, Room: room, Ref: ref}); err != nil {
		w.mu.Lock()
		delete(w.pending, ref)
		w.mu.Unlock()
		ack(fn, apperr.Transport(apperr.CodeJoinFailed, err))
	}
}

// Disconnect stops the loop and closes the connection.
func (w *WebSocket) Disconnect() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	// attach refuses new connections once cancelled, so whatever is current
	// now is the last one.
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		w.writeMu.Unlock()
		conn.Close()
	}
	<-done
	return nil
}

func (w *WebSocket) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if conn == nil {
			conn = w.redial(ctx)
			if conn == nil {
				return
			}
			if !w.attach(ctx, conn) {
				conn.Close()
				return
			}
		}

		err := w.readLoop(conn)
		w.detach(conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("connection lost, reconnecting", zap.Error(err))
		conn = nil
	}
}

func (w *WebSocket) redial(ctx context.Context) *websocket.Conn {
	var conn *websocket.Conn
	op := func() error {
		c, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		w.logger.Debug("dial failed", zap.Error(err), zap.Duration("retry_in", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(w.newBackOff(), ctx), notify); err != nil {
		return nil
	}
	return conn
}

// attach publishes conn and re-joins every known room. It refuses once ctx
// is cancelled.
func (w *WebSocket) attach(ctx context.Context, conn *websocket.Conn) bool {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	w.mu.Lock()
	if ctx.Err() != nil {
		w.mu.Unlock()
		return false
	}
	w.conn = conn
	w.connected.Store(true)
	rooms := make([]string, 0, len(w.rooms))
	for r := range w.rooms {
		rooms = append(rooms, r)
	}
	w.mu.Unlock()

	for _, room := range rooms {
		room := room
		w.sendJoin(conn, room, func(err error) {
			if err != nil {
				w.logger.Warn("rejoin failed", zap.String("room", room), zap.Error(err))
			}
		})
	}
	return true
}

// detach marks the channel down and fails outstanding joins.
func (w *WebSocket) detach(conn *websocket.Conn) {
	w.connected.Store(false)
	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
	}
	pending := w.pending
	w.pending = make(map[string]AckFunc)
	w.mu.Unlock()

	for _, fn := range pending {
		ack(fn, apperr.Transport(apperr.CodeJoinFailed, errClosed))
	}
}

// readLoop decodes frames until the connection fails. The hub may batch
// several newline-separated envelopes into one frame.
func (w *WebSocket) readLoop(conn *websocket.Conn) error {
	for {
		_, r, err := conn.NextReader()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		dec := json.NewDecoder(r)
		for {
			var env Envelope
			if err := dec.Decode(&env); err != nil {
				if !errors.Is(err, io.EOF) {
					w.logger.Warn("dropping malformed frame", zap.Error(err))
				}
				break
			}
			w.handle(env)
		}
	}
}

func (w *WebSocket) handle(env Envelope) {
	if env.Type == enum.EventAck {
		w.mu.Lock()
		fn, ok := w.pending[env.Ref]
		delete(w.pending, env.Ref)
		w.mu.Unlock()
		if !ok {
			return
		}
		if env.Error != "" {
			ack(fn, apperr.Transport(apperr.CodeJoinFailed, errors.New(env.Error)))
			return
		}
		ack(fn, nil)
		return
	}
	w.dispatch(env.Type, env.Payload)
}

func (w *WebSocket) write(conn *websocket.Conn, env Envelope) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

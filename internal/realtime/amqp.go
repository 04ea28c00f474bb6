package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange order events are published to.
const DefaultExchange = "orders_topic"

// AMQP is a Channel over a RabbitMQ topic exchange. Each channel owns an
// exclusive auto-delete queue; joining a room binds the room's routing key.
// The event name travels in the message Type property.
type AMQP struct {
	dispatcher

	url        string
	exchange   string
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	connected atomic.Bool

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	queue  string
	rooms  map[string]bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAMQP creates a channel for the broker at url.
func NewAMQP(url string, logger *zap.Logger) *AMQP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQP{
		url:      url,
		exchange: DefaultExchange,
		logger:   logger.Named("realtime.amqp"),
		rooms:    make(map[string]bool),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Connect opens the connection, declares the exchange and the private queue
// and starts consuming. Lost connections are re-established with backoff.
func (a *AMQP) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done
	a.mu.Unlock()

	deliveries, closed, err := a.open()
	go a.run(runCtx, deliveries, closed, done)
	if err != nil {
		return apperr.Transport(apperr.CodeNotConnected, err)
	}
	return nil
}

func (a *AMQP) Connected() bool { return a.connected.Load() }

// Join binds room's routing key to the private queue.
func (a *AMQP) Join(_ context.Context, room string, fn AckFunc) {
	a.mu.Lock()
	a.rooms[room] = true
	ch, queue := a.ch, a.queue
	a.mu.Unlock()

	if ch == nil {
		ack(fn, apperr.Transport(apperr.CodeNotConnected, errClosed))
		return
	}
	if err := ch.QueueBind(queue, RoutingKey(room), a.exchange, false, nil); err != nil {
		ack(fn, apperr.Transport(apperr.CodeJoinFailed, err))
		return
	}
	ack(fn, nil)
}

func (a *AMQP) Disconnect() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	a.closeConn()
	<-done
	return nil
}

// open dials and sets up the queue, re-binding every known room.
func (a *AMQP) open() (<-chan amqp.Delivery, chan *amqp.Error, error) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	a.mu.Lock()
	a.conn, a.ch, a.queue = conn, ch, q.Name
	rooms := make([]string, 0, len(a.rooms))
	for r := range a.rooms {
		rooms = append(rooms, r)
	}
	a.mu.Unlock()

	for _, room := range rooms {
		if err := ch.QueueBind(q.Name, RoutingKey(room), a.exchange, false, nil); err != nil {
			a.logger.Warn("rebind failed", zap.String("room", room), zap.Error(err))
		}
	}
	a.connected.Store(true)
	return deliveries, closed, nil
}

func (a *AMQP) run(ctx context.Context, deliveries <-chan amqp.Delivery, closed chan *amqp.Error, done chan struct{}) {
	defer close(done)
	for {
		if deliveries == nil {
			op := func() error {
				var err error
				deliveries, closed, err = a.open()
				return err
			}
			notify := func(err error, next time.Duration) {
				a.logger.Debug("broker unreachable", zap.Error(err), zap.Duration("retry_in", next))
			}
			if err := backoff.RetryNotify(op, backoff.WithContext(a.newBackOff(), ctx), notify); err != nil {
				return
			}
			if ctx.Err() != nil {
				a.closeConn()
				return
			}
		}

		a.consume(deliveries)
		a.connected.Store(false)

		if ctx.Err() != nil {
			return
		}
		if err := <-closed; err != nil {
			a.logger.Warn("broker connection lost, reconnecting", zap.String("reason", err.Reason))
		}
		a.closeConn()
		deliveries = nil
	}
}

func (a *AMQP) consume(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		if d.Type == "" {
			a.logger.Warn("dropping untyped message", zap.String("routing_key", d.RoutingKey))
			continue
		}
		a.dispatch(d.Type, d.Body)
	}
}

func (a *AMQP) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn, a.ch, a.queue = nil, nil, ""
	a.mu.Unlock()
	a.connected.Store(false)
	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

// Publisher sends room events to the topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// DialPublisher connects and declares the exchange.
func DialPublisher(url string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(DefaultExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &Publisher{conn: conn, ch: ch, exchange: DefaultExchange}, nil
}

// Publish sends payload for event to room.
func (p *Publisher) Publish(ctx context.Context, room, event string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(room), false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Type:         event,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

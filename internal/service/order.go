package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/checkout"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/pricing"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"go.uber.org/zap"
)

// Errors returned by the order service.
var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrStaleRevision      = errors.New("order changed, please retry")
	ErrAccessDenied       = errors.New("order access denied")
	ErrUnknownItem        = errors.New("item not on the menu")
)

const indexKey = "orders/index"

// Publisher fans an event out to a room. Satisfied by the websocket hub and
// by realtime.Publisher.
type Publisher interface {
	Publish(ctx context.Context, room, event string, payload []byte) error
}

// Restaurant is the per-restaurant configuration the service prices and
// validates against.
type Restaurant struct {
	ID       uuid.UUID
	Checkout *checkout.Validator
	Fees     checkout.Fees
}

// Caller identifies who is asking. Customers only see their own orders.
type Caller struct {
	Role         string
	UserID       string
	RestaurantID uuid.UUID
}

// OrderService is the authoritative order store. Every mutation bumps the
// order's revision and is published to the order's rooms.
type OrderService struct {
	catalog     *menu.Catalog
	restaurants map[uuid.UUID]Restaurant
	publishers  []Publisher
	store       kvstore.Store
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	orders  map[uuid.UUID]order.Order
	numbers map[uuid.UUID]int
}

// Option configures an OrderService.
type Option func(*OrderService)

// WithPublisher adds a fan-out target.
func WithPublisher(p Publisher) Option {
	return func(s *OrderService) { s.publishers = append(s.publishers, p) }
}

// WithStore persists orders so they survive a restart.
func WithStore(store kvstore.Store) Option {
	return func(s *OrderService) { s.store = store }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *OrderService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

// NewOrderService creates a new OrderService.
func NewOrderService(catalog *menu.Catalog, restaurants []Restaurant, opts ...Option) *OrderService {
	s := &OrderService{
		catalog:     catalog,
		restaurants: make(map[uuid.UUID]Restaurant, len(restaurants)),
		logger:      zap.NewNop(),
		now:         time.Now,
		orders:      make(map[uuid.UUID]order.Order),
		numbers:     make(map[uuid.UUID]int),
	}
	for _, r := range restaurants {
		s.restaurants[r.ID] = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load restores persisted orders. Order numbering continues from the highest
// restored number per restaurant.
func (s *OrderService) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	raw, ok, err := s.store.Get(ctx, indexKey)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if !ok {
		return nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		raw, ok, err := s.store.Get(ctx, orderKey(id))
		if err != nil {
			return fmt.Errorf("load order %s: %w", id, err)
		}
		if !ok {
			continue
		}
		var o order.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		o = order.Normalize(o)
		s.orders[o.ID] = o
		var n int
		if _, err := fmt.Sscanf(o.OrderNumber, "KWR-%d", &n); err == nil && n > s.numbers[o.RestaurantID] {
			s.numbers[o.RestaurantID] = n
		}
	}
	s.logger.Info("orders restored", zap.Int("count", len(s.orders)))
	return nil
}

// --- Create ---

// CreateOrder prices req against the catalog, re-runs the checkout checks
// and stores a pending order.
func (s *OrderService) CreateOrder(ctx context.Context, restaurantID uuid.UUID, req order.CreateRequest) (order.Order, error) {
	if err := req.Validate(); err != nil {
		return order.Order{}, err
	}
	rest, ok := s.restaurants[restaurantID]
	if !ok {
		return order.Order{}, ErrRestaurantNotFound
	}

	lines := make([]order.Line, 0, len(req.Items))
	for i, it := range req.Items {
		item, ok := s.catalog.Item(it.ItemID)
		if !ok {
			cause := fmt.Errorf("%w: %q", ErrUnknownItem, it.ItemID)
			return order.Order{}, fmt.Errorf("items[%d]: %w", i, apperr.Wrap(apperr.KindValidation, apperr.CodeUnknownItem, cause))
		}
		q, err := pricing.Resolve(item, it.Selection())
		if err != nil {
			return order.Order{}, fmt.Errorf("items[%d]: %w", i, err)
		}
		lines = append(lines, order.Line{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  it.Quantity,
			UnitPrice: q.UnitPrice,
			Comment:   it.Comment,
			Options:   q.Options,
		})
	}
	subtotal := order.LineTotal(lines)

	res, err := rest.Checkout.Validate(checkout.Input{
		OrderType: req.Type,
		LineCount: len(lines),
		Total:     subtotal,
		Location:  req.Location,
		Phone:     req.Phone,
	})
	if err != nil {
		return order.Order{}, err
	}
	quote := rest.Fees.Quote(req.Type, subtotal)

	s.mu.Lock()
	s.numbers[restaurantID]++
	o := order.Order{
		ID:           uuid.New(),
		RestaurantID: restaurantID,
		OrderNumber:  fmt.Sprintf("KWR-%03d", s.numbers[restaurantID]),
		Type:         req.Type,
		TableID:      req.TableID,
		Address:      req.Address,
		Location:     req.Location,
		Phone:        res.Phone,
		UserID:       req.UserID,
		Status:       enum.OrderStatusPending,
		Lines:        lines,
		Total:        quote.Total,
		Revision:     1,
		CreatedAt:    s.now().UTC(),
	}
	o = order.Normalize(o)
	s.orders[o.ID] = o
	s.persistLocked(ctx, o, true)
	s.mu.Unlock()

	s.logger.Info("order created",
		zap.String("order_number", o.OrderNumber),
		zap.String("order_type", o.Type),
		zap.String("total", o.Total.StringFixed(2)),
		zap.Bool("payment_token", req.PaymentToken != ""),
	)
	s.emit(ctx, enum.EventNewOrder, o, o, realtime.KitchenRoom(restaurantID), realtime.CashierRoom(restaurantID))
	return o.Clone(), nil
}

// --- Read ---

// GetOrder returns one order, if the caller may see it.
func (s *OrderService) GetOrder(_ context.Context, caller Caller, id uuid.UUID) (order.Order, error) {
	s.mu.Lock()
	o, ok := s.orders[id]
	s.mu.Unlock()
	if !ok {
		return order.Order{}, ErrOrderNotFound
	}
	if !visible(caller, o) {
		return order.Order{}, ErrAccessDenied
	}
	return o.Clone(), nil
}

// ListOrders returns the orders role works on at restaurantID, oldest first.
// For customers only their own orders are returned.
func (s *OrderService) ListOrders(_ context.Context, restaurantID uuid.UUID, role, userID string) ([]order.Order, error) {
	if !lifecycle.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", lifecycle.ErrUnknownRole, role)
	}
	s.mu.Lock()
	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && worksOn(role, userID, o) {
			out = append(out, o.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderNumber < out[j].OrderNumber
	})
	return out, nil
}

// worksOn is the server side of each dashboard's filter.
func worksOn(role, userID string, o order.Order) bool {
	switch role {
	case enum.RoleCustomer:
		return userID != "" && o.UserID == userID
	case enum.RoleKitchen:
		return !lifecycle.IsTerminalFor(role, o.Status)
	case enum.RoleCashier:
		return o.Type == enum.OrderTypeDineIn && !lifecycle.IsTerminalFor(role, o.Status)
	case enum.RoleDelivery:
		return o.IsDelivery() && o.HasLocation() && !lifecycle.IsTerminalFor(role, o.Status)
	}
	return false
}

func visible(c Caller, o order.Order) bool {
	if c.Role == enum.RoleCustomer {
		return c.UserID != "" && c.UserID == o.UserID
	}
	return c.RestaurantID == o.RestaurantID
}

// --- Transitions ---

// UpdateStatus moves order id to status on behalf of caller. When
// expectedRevision is non-zero the update only applies if the order is still
// at that revision. Concurrent requests are serialized; the loser of a race
// gets a lifecycle or revision error.
func (s *OrderService) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, status string, expectedRevision int64) (order.Order, error) {
	s.mu.Lock()
	cur, ok := s.orders[id]
	if !ok {
		s.mu.Unlock()
		return order.Order{}, ErrOrderNotFound
	}
	if caller.RestaurantID != cur.RestaurantID {
		s.mu.Unlock()
		return order.Order{}, ErrAccessDenied
	}
	if expectedRevision > 0 && expectedRevision != cur.Revision {
		s.mu.Unlock()
		return order.Order{}, fmt.Errorf("%w: at revision %d, not %d", ErrStaleRevision, cur.Revision, expectedRevision)
	}
	if err := lifecycle.CanTransition(caller.Role, cur.Status, status); err != nil {
		s.mu.Unlock()
		return order.Order{}, err
	}
	if caller.Role == enum.RoleDelivery && !cur.HasLocation() {
		s.mu.Unlock()
		return order.Order{}, apperr.Validation(apperr.CodeLocationUnset)
	}

	next := cur.Clone()
	next.Status = status
	next.Revision = cur.Revision + 1
	s.orders[id] = next
	s.persistLocked(ctx, next, false)
	s.mu.Unlock()

	s.logger.Info("order status changed",
		zap.String("order_number", next.OrderNumber),
		zap.String("from", cur.Status),
		zap.String("to", status),
		zap.String("role", caller.Role),
		zap.Int64("revision", next.Revision),
	)
	s.emit(ctx, enum.EventOrderUpdated, next, next.Update(),
		realtime.KitchenRoom(next.RestaurantID),
		realtime.CashierRoom(next.RestaurantID),
		realtime.OrderRoom(next.ID),
	)
	return next.Clone(), nil
}

// --- Persistence and fan-out ---

func orderKey(id uuid.UUID) string { return "orders/" + id.String() }

// persistLocked writes o and, for new orders, the index. Caller holds s.mu.
// Failures are logged; the in-memory copy stays authoritative.
func (s *OrderService) persistLocked(ctx context.Context, o order.Order, created bool) {
	if s.store == nil {
		return
	}
	raw, err := json.Marshal(o)
	if err == nil {
		err = s.store.Put(ctx, orderKey(o.ID), raw)
	}
	if err == nil && created {
		ids := make([]uuid.UUID, 0, len(s.orders))
		for id := range s.orders {
			ids = append(ids, id)
		}
		var idx []byte
		if idx, err = json.Marshal(ids); err == nil {
			err = s.store.Put(ctx, indexKey, idx)
		}
	}
	if err != nil {
		s.logger.Error("persist order failed", zap.Stringer("order_id", o.ID), zap.Error(err))
	}
}

func (s *OrderService) emit(ctx context.Context, event string, o order.Order, payload any, rooms ...string) {
	if len(s.publishers) == 0 {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event failed", zap.String("event", event), zap.Error(err))
		return
	}
	for _, room := range rooms {
		for _, p := range s.publishers {
			if err := p.Publish(ctx, room, event, raw); err != nil {
				s.logger.Warn("publish failed",
					zap.String("event", event),
					zap.String("room", room),
					zap.String("order_number", o.OrderNumber),
					zap.Error(err),
				)
			}
		}
	}
}

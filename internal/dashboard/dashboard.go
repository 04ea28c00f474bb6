// Package dashboard keeps one role's replica of the orders it works on in
// step with the order service, through push events with a polling fallback.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/backend"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
	"github.com/kiwari-pos/orderflow/internal/notify"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/poller"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"go.uber.org/zap"
)

const adoptTimeout = 15 * time.Second

var (
	ErrUnknownRole    = errors.New("unknown dashboard role")
	ErrMissingChannel = errors.New("dashboard requires a realtime channel")
	ErrMissingBackend = errors.New("dashboard requires an order service")
)

// Config identifies whose dashboard this is.
type Config struct {
	Role         string
	RestaurantID uuid.UUID
	UserID       string
	PollInterval time.Duration
}

// Dashboard is safe for concurrent use. State changes happen under one
// mutex; network calls are made outside it and their results applied under it.
type Dashboard struct {
	cfg       Config
	policy    Policy
	svc       backend.OrderService
	channel   realtime.Channel
	announcer *notify.Announcer
	logger    *zap.Logger

	mu       sync.Mutex
	orders   map[uuid.UUID]order.Order
	retired  map[uuid.UUID]bool
	tracked  map[uuid.UUID]bool
	observer func([]order.Order)

	runMu  sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a dashboard. The channel is owned by the dashboard from here on:
// Start connects it and Stop disconnects it.
func New(cfg Config, svc backend.OrderService, ch realtime.Channel, announcer *notify.Announcer, logger *zap.Logger) (*Dashboard, error) {
	policy, err := PolicyFor(cfg.Role)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, ErrMissingChannel
	}
	if svc == nil {
		return nil, ErrMissingBackend
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	d := &Dashboard{
		cfg:       cfg,
		policy:    policy,
		svc:       svc,
		channel:   ch,
		announcer: announcer,
		logger:    logger.With(zap.String("role", cfg.Role), zap.Stringer("restaurant_id", cfg.RestaurantID)),
		orders:    make(map[uuid.UUID]order.Order),
		retired:   make(map[uuid.UUID]bool),
		tracked:   make(map[uuid.UUID]bool),
	}
	ch.On(enum.EventNewOrder, d.onNewOrder)
	ch.On(enum.EventOrderUpdated, d.onOrderUpdated)
	return d, nil
}

// Observe registers fn to receive a snapshot after every change.
func (d *Dashboard) Observe(fn func([]order.Order)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// --- Lifecycle ---

// Start fetches the initial list, connects the channel, joins the role's
// rooms and starts the reconciliation poller. Fetch and transport failures
// are logged; the poller recovers from them.
func (d *Dashboard) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.cancel != nil {
		return nil
	}

	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("initial fetch failed", zap.Error(err))
	}

	if err := d.channel.Connect(ctx); err != nil {
		d.logger.Warn("realtime connect failed", zap.Error(err))
	}
	for _, room := range d.policy.Rooms(d.cfg.RestaurantID) {
		d.join(ctx, room)
	}
	for _, id := range d.trackedIDs() {
		d.join(ctx, realtime.OrderRoom(id))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.runCtx = runCtx
	d.cancel = cancel
	p := &poller.Poller{
		Interval:  d.cfg.PollInterval,
		Connected: d.channel.Connected,
		Refresh:   d.Refresh,
		Logger:    d.logger,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		p.Run(runCtx)
	}()
	return nil
}

// Stop halts the poller and releases the channel.
func (d *Dashboard) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runCtx = nil
	d.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if err := d.channel.Disconnect(); err != nil {
		d.logger.Warn("realtime disconnect failed", zap.Error(err))
	}
	if d.announcer != nil {
		d.announcer.Wait()
	}
}

func (d *Dashboard) join(ctx context.Context, room string) {
	d.channel.Join(ctx, room, func(err error) {
		if err != nil {
			d.logger.Warn("join failed", zap.String("room", room), zap.Error(err))
			return
		}
		d.logger.Debug("joined", zap.String("room", room))
	})
}

// --- Inbound events ---

func (d *Dashboard) onNewOrder(payload json.RawMessage) {
	var o order.Order
	if err := json.Unmarshal(payload, &o); err != nil {
		d.logger.Warn("dropping malformed newOrder", zap.Error(err))
		return
	}
	d.HandleNewOrder(o)
}

func (d *Dashboard) onOrderUpdated(payload json.RawMessage) {
	var u order.StatusUpdate
	if err := json.Unmarshal(payload, &u); err != nil || u.OrderID == uuid.Nil {
		d.logger.Warn("dropping malformed orderUpdated", zap.Error(err))
		return
	}
	d.HandleOrderUpdated(u)
}

// HandleNewOrder merges a pushed order. A duplicate of a known order is
// merged by revision, never added twice, and an order this role has already
// finished with is ignored. It reports whether the working set changed.
func (d *Dashboard) HandleNewOrder(o order.Order) bool {
	o = order.Normalize(o)

	d.mu.Lock()
	_, known := d.orders[o.ID]
	changed := d.apply(o)
	snapshot := d.changed(changed)
	d.mu.Unlock()

	d.publish(snapshot)
	if changed && !known && d.policy.Announce {
		d.announcer.NewOrder(o)
	}
	return changed
}

// HandleOrderUpdated applies a pushed status change. Updates for orders not
// in the working set are resolved by fetching the order.
func (d *Dashboard) HandleOrderUpdated(u order.StatusUpdate) bool {
	d.mu.Lock()
	cur, ok := d.orders[u.OrderID]
	if !ok {
		retired := d.retired[u.OrderID]
		d.mu.Unlock()
		if !retired && !lifecycle.IsTerminalFor(d.policy.Role, u.Status) {
			d.adopt(u.OrderID)
		}
		return false
	}
	if !supersedes(cur.Status, cur.Revision, u.Status, u.Revision) {
		d.mu.Unlock()
		return false
	}
	next := cur.Clone()
	next.Status = u.Status
	if u.Revision > 0 {
		next.Revision = u.Revision
	}
	changed := d.apply(next)
	snapshot := d.changed(changed)
	d.mu.Unlock()

	d.publish(snapshot)
	return changed
}

// adopt fetches an order we heard about only through an update. The fetch
// is abandoned when the dashboard stops.
func (d *Dashboard) adopt(id uuid.UUID) {
	d.runMu.Lock()
	runCtx := d.runCtx
	if runCtx == nil {
		d.runMu.Unlock()
		return
	}
	d.wg.Add(1)
	d.runMu.Unlock()
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(runCtx, adoptTimeout)
		defer cancel()
		o, err := d.svc.FetchOrder(ctx, id)
		if err != nil {
			d.logger.Debug("could not adopt updated order", zap.Stringer("order_id", id), zap.Error(err))
			return
		}
		d.mu.Lock()
		changed := d.apply(o)
		snapshot := d.changed(changed)
		d.mu.Unlock()
		d.publish(snapshot)
	}()
}

// apply merges o into the working set. Caller holds d.mu.
func (d *Dashboard) apply(o order.Order) bool {
	if !d.accepts(o) {
		d.ignore(o.ID)
		return false
	}
	if d.retired[o.ID] {
		return false
	}
	cur, known := d.orders[o.ID]
	if known && !supersedes(cur.Status, cur.Revision, o.Status, o.Revision) {
		return false
	}
	if lifecycle.IsTerminalFor(d.policy.Role, o.Status) {
		d.retired[o.ID] = true
		if known {
			delete(d.orders, o.ID)
			return true
		}
		return false
	}
	d.orders[o.ID] = o.Clone()
	return true
}

// ignore remembers an order this role filters out, so later updates for it
// are not fetched again. A customer's filter changes as it tracks orders.
// Caller holds d.mu.
func (d *Dashboard) ignore(id uuid.UUID) {
	if d.policy.Role != enum.RoleCustomer {
		d.retired[id] = true
	}
}

func (d *Dashboard) accepts(o order.Order) bool {
	if d.cfg.RestaurantID != uuid.Nil && o.RestaurantID != uuid.Nil && o.RestaurantID != d.cfg.RestaurantID {
		return false
	}
	if d.policy.Role == enum.RoleCustomer {
		return d.tracked[o.ID]
	}
	return d.policy.Accept(o)
}

// supersedes is the merge rule: the higher revision wins. When either side
// has no revision, only forward progress through the lifecycle is taken.
func supersedes(curStatus string, curRev int64, nextStatus string, nextRev int64) bool {
	if curRev > 0 && nextRev > 0 {
		return nextRev > curRev
	}
	return lifecycle.Advances(curStatus, nextStatus)
}

// --- Outbound actions ---

// Advance asks the order service to move order id to status. Local state
// changes only from the service's response; a rejection leaves it untouched.
func (d *Dashboard) Advance(ctx context.Context, id uuid.UUID, status string) (order.Order, error) {
	d.mu.Lock()
	cur, ok := d.orders[id]
	d.mu.Unlock()

	if !ok {
		return order.Order{}, apperr.Validation(apperr.CodeOrderNotFound)
	}
	if d.policy.ReadOnly {
		return order.Order{}, apperr.Validation(apperr.CodeTransitionNotAllowed)
	}
	if err := lifecycle.CanTransition(d.policy.Role, cur.Status, status); err != nil {
		return order.Order{}, apperr.Wrap(apperr.KindValidation, apperr.CodeTransitionNotAllowed, err)
	}
	if d.policy.Role == enum.RoleDelivery && !cur.HasLocation() {
		return order.Order{}, apperr.Validation(apperr.CodeLocationUnset)
	}

	updated, err := d.svc.UpdateStatus(ctx, d.policy.Role, id, status)
	if err != nil {
		d.logger.Warn("status update rejected", zap.Stringer("order_id", id), zap.String("status", status), zap.Error(err))
		return order.Order{}, apperr.Persistence(apperr.CodeUpdateFailed, err, err.Error())
	}
	updated = order.Normalize(updated)

	d.mu.Lock()
	changed := d.apply(updated)
	snapshot := d.changed(changed)
	d.mu.Unlock()
	d.publish(snapshot)
	return updated, nil
}

// Refresh refetches the role's orders and replaces the working set.
func (d *Dashboard) Refresh(ctx context.Context) error {
	fetched, err := d.svc.FetchOrders(ctx, backend.Query{
		Role:         d.policy.Role,
		RestaurantID: d.cfg.RestaurantID,
		UserID:       d.cfg.UserID,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, apperr.CodeFetchFailed, err)
	}

	d.mu.Lock()
	var newlyTracked []uuid.UUID
	if d.policy.Role == enum.RoleCustomer {
		for _, o := range fetched {
			if !d.tracked[o.ID] {
				d.tracked[o.ID] = true
				newlyTracked = append(newlyTracked, o.ID)
			}
		}
	}
	d.orders = make(map[uuid.UUID]order.Order, len(fetched))
	for _, o := range fetched {
		o = order.Normalize(o)
		if !d.accepts(o) {
			d.ignore(o.ID)
			continue
		}
		// The fetch is authoritative: an order it still lists as active
		// comes back even if we had retired it.
		delete(d.retired, o.ID)
		if lifecycle.IsTerminalFor(d.policy.Role, o.Status) {
			d.retired[o.ID] = true
			continue
		}
		d.orders[o.ID] = o
	}
	snapshot := d.changed(true)
	d.mu.Unlock()

	d.publish(snapshot)
	for _, id := range newlyTracked {
		d.joinIfRunning(ctx, realtime.OrderRoom(id))
	}
	return nil
}

// Track makes a customer dashboard follow order id.
func (d *Dashboard) Track(ctx context.Context, id uuid.UUID) error {
	if d.policy.Role != enum.RoleCustomer {
		return nil
	}
	d.mu.Lock()
	already := d.tracked[id]
	d.tracked[id] = true
	d.mu.Unlock()

	if !already {
		d.joinIfRunning(ctx, realtime.OrderRoom(id))
	}
	o, err := d.svc.FetchOrder(ctx, id)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, apperr.CodeFetchFailed, err)
	}
	d.mu.Lock()
	changed := d.apply(order.Normalize(o))
	snapshot := d.changed(changed)
	d.mu.Unlock()
	d.publish(snapshot)
	return nil
}

func (d *Dashboard) joinIfRunning(ctx context.Context, room string) {
	d.runMu.Lock()
	running := d.cancel != nil
	d.runMu.Unlock()
	if running {
		d.join(ctx, room)
	}
}

func (d *Dashboard) trackedIDs() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(d.tracked))
	for id := range d.tracked {
		ids = append(ids, id)
	}
	return ids
}

// --- Reads ---

// Orders returns the working set, oldest first.
func (d *Dashboard) Orders() []order.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

// Order returns one order from the working set.
func (d *Dashboard) Order(id uuid.UUID) (order.Order, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[id]
	return o.Clone(), ok
}

func (d *Dashboard) Role() string { return d.policy.Role }

// NextStates lists what this role may move order id to.
func (d *Dashboard) NextStates(id uuid.UUID) []string {
	o, ok := d.Order(id)
	if !ok || d.policy.ReadOnly {
		return nil
	}
	return lifecycle.NextStates(d.policy.Role, o.Status)
}

func (d *Dashboard) snapshotLocked() []order.Order {
	out := make([]order.Order, 0, len(d.orders))
	for _, o := range d.orders {
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// changed returns the snapshot to publish, or nil. Caller holds d.mu.
func (d *Dashboard) changed(changed bool) []order.Order {
	if !changed || d.observer == nil {
		return nil
	}
	return d.snapshotLocked()
}

func (d *Dashboard) publish(snapshot []order.Order) {
	if snapshot == nil {
		return
	}
	d.mu.Lock()
	fn := d.observer
	d.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}

// Package cart is the client-held order state: the current cart, its
// persistence across restarts, and submission to the order service.
package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/pricing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Persistence keys.
const (
	KeyCurrent = "cart/current"
	KeyHistory = "orders/history"
)

var ErrLineNotFound = errors.New("cart line not found")

// Submitter creates orders at the order service.
type Submitter interface {
	CreateOrder(ctx context.Context, restaurantID uuid.UUID, req order.CreateRequest) (order.Order, error)
}

// Line is one cart line. UnitPrice is captured when the line is first added
// and is not repriced afterwards.
type Line struct {
	Key       string                `json:"key"`
	ItemID    string                `json:"item_id"`
	Name      string                `json:"name"`
	Selection menu.Selection        `json:"selection"`
	Options   []menu.SelectedOption `json:"options"`
	Comment   string                `json:"comment,omitempty"`
	Quantity  int                   `json:"quantity"`
	UnitPrice decimal.Decimal       `json:"unit_price"`
}

func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type savedCart struct {
	Lines []Line `json:"lines"`
}

// SubmitRequest names the destination of a cart submission.
type SubmitRequest struct {
	RestaurantID uuid.UUID
	Type         string
	TableID      string
	Address      string
	Location     *geo.Point
	Phone        string
	UserID       string
	PaymentToken string
}

// Cart is safe for concurrent use. Every mutation is written through to the
// store; store failures are logged and never undo the in-memory change.
type Cart struct {
	mu        sync.Mutex
	store     kvstore.Store
	submitter Submitter
	logger    *zap.Logger

	lines   []Line
	history []order.Order
}

// Open rehydrates the cart and order history from store. Unreadable records
// are logged and replaced with empty state.
func Open(ctx context.Context, store kvstore.Store, submitter Submitter, logger *zap.Logger) (*Cart, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cart{store: store, submitter: submitter, logger: logger}

	var saved savedCart
	if err := c.load(ctx, KeyCurrent, &saved); err != nil {
		return nil, err
	}
	c.lines = saved.Lines

	if err := c.load(ctx, KeyHistory, &c.history); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cart) load(ctx context.Context, key string, dst any) error {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("discarding unreadable local record", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// AddLine prices item with sel and either bumps the quantity of the line
// with the same canonical key or appends a new line. It returns the key.
func (c *Cart) AddLine(ctx context.Context, item menu.MenuItem, sel menu.Selection, comment string) (string, error) {
	quote, err := pricing.Resolve(item, sel)
	if err != nil {
		return "", err
	}
	comment = strings.TrimSpace(comment)
	key := Key(item.ID, sel, comment)

	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(key); i >= 0 {
		c.lines[i].Quantity++
	} else {
		c.lines = append(c.lines, Line{
			Key:       key,
			ItemID:    item.ID,
			Name:      item.Name,
			Selection: sel.Clone(),
			Options:   quote.Options,
			Comment:   comment,
			Quantity:  1,
			UnitPrice: quote.UnitPrice,
		})
	}
	c.saveCart(ctx)
	return key, nil
}

// UpdateQuantity adds delta to a line's quantity. A result of exactly zero
// removes the line; anything below zero clamps to one.
func (c *Cart) UpdateQuantity(ctx context.Context, key string, delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(key)
	if i < 0 {
		return ErrLineNotFound
	}
	next := c.lines[i].Quantity + delta
	switch {
	case next == 0:
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	case next < 0:
		c.lines[i].Quantity = 1
	default:
		c.lines[i].Quantity = next
	}
	c.saveCart(ctx)
	return nil
}

func (c *Cart) RemoveLine(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(key)
	if i < 0 {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.saveCart(ctx)
	return nil
}

// Lines returns a snapshot of the cart lines.
func (c *Cart) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLines(c.lines)
}

// Len is the number of distinct lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// TotalPrice is Σ(unit price × quantity). Delivery fee and tax are not included.
func (c *Cart) TotalPrice() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}

// History returns submitted orders, oldest first.
func (c *Cart) History() []order.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]order.Order, len(c.history))
	for i, o := range c.history {
		out[i] = o.Clone()
	}
	return out
}

func (c *Cart) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.saveCart(ctx)
}

// Submit sends the cart to the order service. On success the normalized order
// is appended to history and the submitted lines leave the cart; on failure
// the cart is untouched and a persistence error carrying the service's text
// is returned.
func (c *Cart) Submit(ctx context.Context, req SubmitRequest) (order.Order, error) {
	c.mu.Lock()
	if len(c.lines) == 0 {
		c.mu.Unlock()
		return order.Order{}, apperr.Validation(apperr.CodeEmptyCart)
	}
	if err := checkDestination(req); err != nil {
		c.mu.Unlock()
		return order.Order{}, err
	}
	submitted := cloneLines(c.lines)
	c.mu.Unlock()

	payload := order.CreateRequest{
		RestaurantID: req.RestaurantID,
		Type:         req.Type,
		TableID:      req.TableID,
		Address:      req.Address,
		Location:     req.Location,
		Phone:        req.Phone,
		UserID:       req.UserID,
		PaymentToken: req.PaymentToken,
		Items:        Payload(submitted),
	}

	created, err := c.submitter.CreateOrder(ctx, req.RestaurantID, payload)
	if err != nil {
		c.logger.Warn("order submission rejected", zap.Error(err))
		return order.Order{}, apperr.Persistence(apperr.CodeSubmitFailed, err, err.Error())
	}
	created = order.Normalize(created)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, created)
	c.removeSubmitted(submitted)
	c.saveCart(ctx)
	c.saveHistory(ctx)
	return created.Clone(), nil
}

// Payload flattens cart lines into submission items.
func Payload(lines []Line) []order.ItemRequest {
	items := make([]order.ItemRequest, 0, len(lines))
	for _, l := range lines {
		item := order.ItemRequest{ItemID: l.ItemID, Quantity: l.Quantity, Comment: l.Comment}
		for _, o := range l.Options {
			item.Options = append(item.Options, order.OptionRef{
				Group:     o.Group,
				OptionID:  o.OptionID,
				Placement: o.Placement,
			})
		}
		items = append(items, item)
	}
	return items
}

func checkDestination(req SubmitRequest) error {
	if req.RestaurantID == uuid.Nil {
		return apperr.Validation(apperr.CodeMissingDestination)
	}
	switch req.Type {
	case enum.OrderTypeDineIn:
		if strings.TrimSpace(req.TableID) == "" {
			return apperr.Validation(apperr.CodeMissingDestination)
		}
	case enum.OrderTypeDelivery:
		if strings.TrimSpace(req.Address) == "" {
			return apperr.Validation(apperr.CodeMissingDestination)
		}
	default:
		return apperr.Validation(apperr.CodeMissingDestination)
	}
	return nil
}

// removeSubmitted takes the submitted quantities out of the cart. Lines added
// while the request was in flight stay.
func (c *Cart) removeSubmitted(submitted []Line) {
	for _, s := range submitted {
		i := c.indexOf(s.Key)
		if i < 0 {
			continue
		}
		c.lines[i].Quantity -= s.Quantity
		if c.lines[i].Quantity <= 0 {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
		}
	}
}

func (c *Cart) indexOf(key string) int {
	for i, l := range c.lines {
		if l.Key == key {
			return i
		}
	}
	return -1
}

func (c *Cart) saveCart(ctx context.Context) {
	c.put(ctx, KeyCurrent, savedCart{Lines: c.lines})
}

func (c *Cart) saveHistory(ctx context.Context) {
	c.put(ctx, KeyHistory, c.history)
}

func (c *Cart) put(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("encode local record", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Put(ctx, key, raw); err != nil {
		c.logger.Error("write local record", zap.String("key", key), zap.Error(err))
	}
}

func cloneLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.Selection = l.Selection.Clone()
		l.Options = append([]menu.SelectedOption(nil), l.Options...)
		out[i] = l
	}
	return out
}

// Package order holds the order model shared by the clients and the
// reference backend, plus the flat wire payloads exchanged between them.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrderType = errors.New("invalid order_type")
	ErrMissingTable     = errors.New("table_id is required for dine_in orders")
	ErrMissingAddress   = errors.New("address is required for delivery orders")
	ErrEmptyItems       = errors.New("items are required")
	ErrInvalidQuantity  = errors.New("quantity must be > 0")
	ErrMissingItemID    = errors.New("item_id is required")
)

// Line is one priced line of a submitted order.
type Line struct {
	ItemID    string                `json:"item_id"`
	Name      string                `json:"name"`
	Quantity  int                   `json:"quantity"`
	UnitPrice decimal.Decimal       `json:"unit_price"`
	Comment   string                `json:"comment,omitempty"`
	Options   []menu.SelectedOption `json:"options,omitempty"`
}

// Subtotal is unit price times quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the authoritative record as returned by the order service.
type Order struct {
	ID           uuid.UUID       `json:"id"`
	RestaurantID uuid.UUID       `json:"restaurant_id"`
	OrderNumber  string          `json:"order_number"`
	Type         string          `json:"order_type"`
	TableID      string          `json:"table_id,omitempty"`
	Address      string          `json:"address,omitempty"`
	Location     *geo.Point      `json:"location,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	Status       string          `json:"status"`
	Lines        []Line          `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	Revision     int64           `json:"revision"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsDelivery reports whether the order is a delivery order.
func (o Order) IsDelivery() bool { return o.Type == enum.OrderTypeDelivery }

// HasLocation reports whether the order carries usable delivery coordinates.
func (o Order) HasLocation() bool { return o.Location != nil && o.Location.Valid() }

// LineTotal recomputes Σ(unit price × quantity), rounded to cents.
func LineTotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}

// Clone returns a copy that shares no slices or pointers with o.
func (o Order) Clone() Order {
	c := o
	if o.Location != nil {
		p := *o.Location
		c.Location = &p
	}
	c.Lines = make([]Line, len(o.Lines))
	for i, l := range o.Lines {
		l.Options = append([]menu.SelectedOption(nil), l.Options...)
		c.Lines[i] = l
	}
	return c
}

// OptionRef is one option reference in a flat submission line.
type OptionRef struct {
	Group     string `json:"group"`
	OptionID  string `json:"option_id"`
	Placement string `json:"placement"`
}

// ItemRequest is one flat submission line.
type ItemRequest struct {
	ItemID   string      `json:"item_id"`
	Quantity int         `json:"quantity"`
	Comment  string      `json:"comment,omitempty"`
	Options  []OptionRef `json:"options,omitempty"`
}

// Selection rebuilds the grouped selection from the flat option list.
func (r ItemRequest) Selection() menu.Selection {
	sel := menu.Selection{}
	for _, o := range r.Options {
		sel[o.Group] = append(sel[o.Group], menu.Choice{OptionID: o.OptionID, Placement: o.Placement})
	}
	return sel
}

// CreateRequest is the body of POST /restaurants/{rid}/orders.
type CreateRequest struct {
	RestaurantID uuid.UUID     `json:"restaurant_id"`
	Type         string        `json:"order_type"`
	TableID      string        `json:"table_id,omitempty"`
	Address      string        `json:"address,omitempty"`
	Location     *geo.Point    `json:"location,omitempty"`
	Phone        string        `json:"phone,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	PaymentToken string        `json:"payment_token,omitempty"`
	Items        []ItemRequest `json:"items"`
}

// Validate checks the request shape. Pricing and delivery rules are checked
// by the caller against the catalog and restaurant settings.
func (r CreateRequest) Validate() error {
	switch r.Type {
	case enum.OrderTypeDineIn:
		if r.TableID == "" {
			return ErrMissingTable
		}
	case enum.OrderTypeDelivery:
		if r.Address == "" {
			return ErrMissingAddress
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOrderType, r.Type)
	}
	if len(r.Items) == 0 {
		return ErrEmptyItems
	}
	for i, it := range r.Items {
		if it.ItemID == "" {
			return fmt.Errorf("items[%d]: %w", i, ErrMissingItemID)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("items[%d]: %w", i, ErrInvalidQuantity)
		}
	}
	return nil
}

// StatusUpdate is the orderUpdated event payload.
type StatusUpdate struct {
	OrderID  uuid.UUID `json:"order_id"`
	Status   string    `json:"status"`
	Revision int64     `json:"revision,omitempty"`
}

// Update builds the event payload describing o's current status.
func (o Order) Update() StatusUpdate {
	return StatusUpdate{OrderID: o.ID, Status: o.Status, Revision: o.Revision}
}

// Normalize fills defaults on an order received from the wire so every
// replica holds the same shape: pending status when absent, UTC timestamps,
// a non-nil line slice and a total that falls back to the line sum.
func Normalize(o Order) Order {
	if o.Status == "" {
		o.Status = enum.OrderStatusPending
	}
	if o.Lines == nil {
		o.Lines = []Line{}
	}
	for i := range o.Lines {
		for j := range o.Lines[i].Options {
			o.Lines[i].Options[j].Placement = menu.NormalizePlacement(o.Lines[i].Options[j].Placement)
		}
	}
	if o.Total.IsZero() && len(o.Lines) > 0 {
		o.Total = LineTotal(o.Lines)
	}
	o.Total = o.Total.Round(2)
	if !o.CreatedAt.IsZero() {
		o.CreatedAt = o.CreatedAt.UTC()
	}
	if o.Location != nil && !o.Location.Valid() {
		o.Location = nil
	}
	return o
}

package enum

// ── Group A: State machines (validated by internal/lifecycle) ──

const (
	OrderStatusPending    = "pending"
	OrderStatusInProgress = "in_progress"
	OrderStatusReady      = "ready"
	OrderStatusDelivered  = "delivered"
	OrderStatusPaid       = "paid"
	OrderStatusCancelled  = "cancelled"
)

// ── Group B: Actors ──

const (
	RoleKitchen  = "kitchen"
	RoleCashier  = "cashier"
	RoleDelivery = "delivery"
	RoleCustomer = "customer"
)

const (
	OrderTypeDineIn   = "dine_in"
	OrderTypeDelivery = "delivery"
)

// ── Group C: Menu composition ──

const (
	GroupSize    = "size"
	GroupDough   = "dough"
	GroupSauce   = "sauce"
	GroupFilling = "filling"
	GroupTopping = "topping"
	GroupExtra   = "extra"
)

const (
	SelectSingle   = "single"
	SelectMultiple = "multiple"
)

const (
	PlacementWhole = "whole"
	PlacementLeft  = "left"
	PlacementRight = "right"
)

// ── Group D: Realtime wire ──

const (
	EventNewOrder     = "newOrder"
	EventOrderUpdated = "orderUpdated"
	EventJoin         = "join"
	EventAck          = "ack"
)

const (
	RoomKitchen = "kitchen"
	RoomCashier = "cashier"
	RoomOrder   = "order"
)

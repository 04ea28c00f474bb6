package dashboard

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/realtime"
)

// Policy is what distinguishes one role's dashboard from another.
type Policy struct {
	Role string
	// Rooms the dashboard joins at start. Customers join per-order rooms
	// as they track orders instead.
	Rooms func(restaurantID uuid.UUID) []string
	// Accept filters orders into the working set.
	Accept func(o order.Order) bool
	// Announce new orders with chime, notification and speech.
	Announce bool
	// ReadOnly dashboards never request transitions.
	ReadOnly bool
}

// PolicyFor returns the policy for role.
func PolicyFor(role string) (Policy, error) {
	switch role {
	case enum.RoleKitchen:
		return Policy{
			Role:     role,
			Rooms:    func(rid uuid.UUID) []string { return []string{realtime.KitchenRoom(rid)} },
			Accept:   func(order.Order) bool { return true },
			Announce: true,
		}, nil
	case enum.RoleCashier:
		return Policy{
			Role:     role,
			Rooms:    func(rid uuid.UUID) []string { return []string{realtime.CashierRoom(rid)} },
			Accept:   func(o order.Order) bool { return o.Type == enum.OrderTypeDineIn },
			Announce: true,
		}, nil
	case enum.RoleDelivery:
		return Policy{
			Role:     role,
			Rooms:    func(rid uuid.UUID) []string { return []string{realtime.CashierRoom(rid)} },
			Accept:   func(o order.Order) bool { return o.IsDelivery() && o.HasLocation() },
			Announce: true,
		}, nil
	case enum.RoleCustomer:
		return Policy{
			Role:     role,
			Rooms:    func(uuid.UUID) []string { return nil },
			Accept:   func(order.Order) bool { return true },
			ReadOnly: true,
		}, nil
	}
	return Policy{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

package ws

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/auth"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"github.com/kiwari-pos/orderflow/internal/service"
)

var (
	ErrUnknownRoom = errors.New("unknown room")
	ErrRoomDenied  = errors.New("room access denied")
)

// Authorizer decides whether claims may join room.
type Authorizer func(ctx context.Context, claims *auth.Claims, room string) error

// OrderGetter looks up an order on behalf of a caller.
// Satisfied by *service.OrderService.
type OrderGetter interface {
	GetOrder(ctx context.Context, caller service.Caller, id uuid.UUID) (order.Order, error)
}

// RoomAuthorizer lets kitchen staff into their kitchen room, cashiers and
// drivers into their cashier room, and anyone who may read an order into
// that order's room.
func RoomAuthorizer(orders OrderGetter) Authorizer {
	return func(ctx context.Context, claims *auth.Claims, room string) error {
		kind, id, ok := realtime.ParseRoom(room)
		if !ok {
			return ErrUnknownRoom
		}
		switch kind {
		case enum.RoomKitchen:
			if claims.Role == enum.RoleKitchen && claims.RestaurantID == id {
				return nil
			}
		case enum.RoomCashier:
			if (claims.Role == enum.RoleCashier || claims.Role == enum.RoleDelivery) && claims.RestaurantID == id {
				return nil
			}
		case enum.RoomOrder:
			caller := service.Caller{Role: claims.Role, UserID: claims.UserID, RestaurantID: claims.RestaurantID}
			if _, err := orders.GetOrder(ctx, caller, id); err == nil {
				return nil
			}
		}
		return ErrRoomDenied
	}
}

// Package lifecycle is the order status state machine and who may drive it.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/orderflow/internal/enum"
)

var (
	ErrUnknownStatus    = errors.New("unknown order status")
	ErrUnknownRole      = errors.New("unknown role")
	ErrTransitionDenied = errors.New("transition not allowed")
)

// Transition is one permitted status change and the role allowed to make it.
type Transition struct {
	From string
	To   string
	Role string
}

// transitions is the authoritative role-scoped table.
var transitions = []Transition{
	// Kitchen works the ticket.
	{From: enum.OrderStatusPending, To: enum.OrderStatusInProgress, Role: enum.RoleKitchen},
	{From: enum.OrderStatusInProgress, To: enum.OrderStatusReady, Role: enum.RoleKitchen},

	// Cashier settles dine-in orders at any pre-delivery stage, or cancels.
	{From: enum.OrderStatusPending, To: enum.OrderStatusPaid, Role: enum.RoleCashier},
	{From: enum.OrderStatusInProgress, To: enum.OrderStatusPaid, Role: enum.RoleCashier},
	{From: enum.OrderStatusReady, To: enum.OrderStatusPaid, Role: enum.RoleCashier},
	{From: enum.OrderStatusPending, To: enum.OrderStatusCancelled, Role: enum.RoleCashier},
	{From: enum.OrderStatusInProgress, To: enum.OrderStatusCancelled, Role: enum.RoleCashier},
	{From: enum.OrderStatusReady, To: enum.OrderStatusCancelled, Role: enum.RoleCashier},

	// Driver hands over, then collects.
	{From: enum.OrderStatusReady, To: enum.OrderStatusDelivered, Role: enum.RoleDelivery},
	{From: enum.OrderStatusDelivered, To: enum.OrderStatusPaid, Role: enum.RoleDelivery},
}

type transitionKey struct {
	from, to, role string
}

var transitionSet = func() map[transitionKey]bool {
	m := make(map[transitionKey]bool, len(transitions))
	for _, t := range transitions {
		m[transitionKey{t.From, t.To, t.Role}] = true
	}
	return m
}()

var rank = map[string]int{
	enum.OrderStatusPending:    0,
	enum.OrderStatusInProgress: 1,
	enum.OrderStatusReady:      2,
	enum.OrderStatusDelivered:  3,
	enum.OrderStatusPaid:       4,
}

// terminal lists, per role, the statuses at which an order leaves that
// role's working set.
var terminal = map[string]map[string]bool{
	enum.RoleKitchen: {
		enum.OrderStatusReady:     true,
		enum.OrderStatusDelivered: true,
		enum.OrderStatusPaid:      true,
		enum.OrderStatusCancelled: true,
	},
	enum.RoleCashier: {
		enum.OrderStatusPaid:      true,
		enum.OrderStatusCancelled: true,
	},
	enum.RoleDelivery: {
		enum.OrderStatusPaid:      true,
		enum.OrderStatusCancelled: true,
	},
	enum.RoleCustomer: {},
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	_, ok := rank[s]
	return ok || s == enum.OrderStatusCancelled
}

// ValidRole reports whether r is a known role.
func ValidRole(r string) bool {
	_, ok := terminal[r]
	return ok
}

// Rank orders the forward statuses; cancelled has no rank and returns -1.
func Rank(status string) int {
	if r, ok := rank[status]; ok {
		return r
	}
	return -1
}

// Cancellable reports whether an order in status may still be cancelled.
func Cancellable(status string) bool {
	switch status {
	case enum.OrderStatusPending, enum.OrderStatusInProgress, enum.OrderStatusReady:
		return true
	}
	return false
}

// Final reports whether no role can move an order out of status.
func Final(status string) bool {
	return status == enum.OrderStatusPaid || status == enum.OrderStatusCancelled
}

// Advances reports whether moving from -> to is forward progress: a higher
// rank, or a cancellation of a still-cancellable order. Equal statuses do
// not advance, which makes re-applying an update a no-op.
func Advances(from, to string) bool {
	if from == to {
		return false
	}
	if to == enum.OrderStatusCancelled {
		return Cancellable(from)
	}
	if from == enum.OrderStatusCancelled {
		return false
	}
	rf, rt := Rank(from), Rank(to)
	return rf >= 0 && rt > rf
}

// CanTransition checks that role may move an order from -> to.
func CanTransition(role, from, to string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if !ValidStatus(from) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !ValidStatus(to) {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if transitionSet[transitionKey{from, to, role}] {
		return nil
	}
	return fmt.Errorf("%w: %s → %s for %s (valid: %s)", ErrTransitionDenied, from, to, role, describe(NextStates(role, from)))
}

// NextStates lists the statuses role may move an order to from status.
func NextStates(role, status string) []string {
	var out []string
	for _, t := range transitions {
		if t.From == status && t.Role == role {
			out = append(out, t.To)
		}
	}
	return out
}

// Reachable lists every status any role may move an order to from status.
func Reachable(status string) []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range transitions {
		if t.From == status && !seen[t.To] {
			out = append(out, t.To)
			seen[t.To] = true
		}
	}
	return out
}

// IsTerminalFor reports whether an order in status has left role's working set.
func IsTerminalFor(role, status string) bool {
	return terminal[role][status]
}

// Transitions returns the full table.
func Transitions() []Transition {
	return append([]Transition(nil), transitions...)
}

func describe(states []string) string {
	if len(states) == 0 {
		return "none"
	}
	return strings.Join(states, ", ")
}

package lifecycle_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
)

func TestCanTransition_RoleTable(t *testing.T) {
	tests := []struct {
		role, from, to string
		ok             bool
	}{
		{enum.RoleKitchen, "pending", "in_progress", true},
		{enum.RoleKitchen, "in_progress", "ready", true},
		{enum.RoleKitchen, "ready", "delivered", false},
		{enum.RoleKitchen, "pending", "cancelled", false},

		{enum.RoleCashier, "ready", "paid", true},
		{enum.RoleCashier, "pending", "paid", true},
		{enum.RoleCashier, "in_progress", "paid", true},
		{enum.RoleCashier, "ready", "cancelled", true},
		{enum.RoleCashier, "delivered", "cancelled", false},
		{enum.RoleCashier, "paid", "cancelled", false},

		{enum.RoleDelivery, "ready", "delivered", true},
		{enum.RoleDelivery, "delivered", "paid", true},
		{enum.RoleDelivery, "in_progress", "delivered", false},

		{enum.RoleCustomer, "pending", "cancelled", false},
		{enum.RoleCashier, "paid", "pending", false},
	}
	for _, tt := range tests {
		err := lifecycle.CanTransition(tt.role, tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s %s→%s: unexpected error %v", tt.role, tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, lifecycle.ErrTransitionDenied) {
			t.Errorf("%s %s→%s: expected ErrTransitionDenied, got %v", tt.role, tt.from, tt.to, err)
		}
	}
}

func TestCanTransition_UnknownInputs(t *testing.T) {
	if err := lifecycle.CanTransition("chef", "pending", "ready"); !errors.Is(err, lifecycle.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
	if err := lifecycle.CanTransition(enum.RoleKitchen, "baking", "ready"); !errors.Is(err, lifecycle.ErrUnknownStatus) {
		t.Errorf("expected ErrUnknownStatus, got %v", err)
	}
}

func TestReachableFromReady(t *testing.T) {
	got := lifecycle.Reachable(enum.OrderStatusReady)
	sort.Strings(got)
	want := []string{"cancelled", "delivered", "paid"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNoTransitionOutOfFinalStates(t *testing.T) {
	for _, s := range []string{"paid", "cancelled"} {
		if r := lifecycle.Reachable(s); len(r) != 0 {
			t.Errorf("%s: expected no transitions, got %v", s, r)
		}
	}
}

func TestAdvances(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{"pending", "in_progress", true},
		{"pending", "ready", true},
		{"in_progress", "in_progress", false},
		{"ready", "pending", false},
		{"paid", "pending", false},
		{"ready", "cancelled", true},
		{"delivered", "cancelled", false},
		{"cancelled", "ready", false},
		{"cancelled", "cancelled", false},
	}
	for _, tt := range tests {
		if got := lifecycle.Advances(tt.from, tt.to); got != tt.want {
			t.Errorf("Advances(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminalFor(t *testing.T) {
	if !lifecycle.IsTerminalFor(enum.RoleKitchen, "ready") {
		t.Error("kitchen should drop orders at ready")
	}
	if lifecycle.IsTerminalFor(enum.RoleKitchen, "in_progress") {
		t.Error("kitchen keeps in_progress orders")
	}
	if lifecycle.IsTerminalFor(enum.RoleCashier, "ready") {
		t.Error("cashier keeps ready orders")
	}
	if !lifecycle.IsTerminalFor(enum.RoleCashier, "paid") {
		t.Error("cashier should drop orders at paid")
	}
	if !lifecycle.IsTerminalFor(enum.RoleDelivery, "cancelled") {
		t.Error("delivery should drop cancelled orders")
	}
	if lifecycle.IsTerminalFor(enum.RoleCustomer, "paid") {
		t.Error("customer mirror never prunes")
	}
}

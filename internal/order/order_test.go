package order

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/shopspring/decimal"
)

func TestCreateRequestValidate(t *testing.T) {
	item := []ItemRequest{{ItemID: "soda", Quantity: 1}}
	tests := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"dine in ok", CreateRequest{Type: "dine_in", TableID: "T4", Items: item}, nil},
		{"delivery ok", CreateRequest{Type: "delivery", Address: "1 Main St", Items: item}, nil},
		{"dine in without table", CreateRequest{Type: "dine_in", Items: item}, ErrMissingTable},
		{"delivery without address", CreateRequest{Type: "delivery", Items: item}, ErrMissingAddress},
		{"bad type", CreateRequest{Type: "takeaway", Items: item}, ErrInvalidOrderType},
		{"no items", CreateRequest{Type: "dine_in", TableID: "T4"}, ErrEmptyItems},
		{"zero quantity", CreateRequest{Type: "dine_in", TableID: "T4", Items: []ItemRequest{{ItemID: "soda"}}}, ErrInvalidQuantity},
		{"missing item id", CreateRequest{Type: "dine_in", TableID: "T4", Items: []ItemRequest{{Quantity: 1}}}, ErrMissingItemID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestItemRequestSelectionGroupsOptions(t *testing.T) {
	r := ItemRequest{ItemID: "byo", Quantity: 1, Options: []OptionRef{
		{Group: "size", OptionID: "sz-m"},
		{Group: "topping", OptionID: "pep", Placement: "left"},
		{Group: "topping", OptionID: "mush"},
	}}
	sel := r.Selection()
	if len(sel["size"]) != 1 || len(sel["topping"]) != 2 {
		t.Fatalf("selection: %v", sel)
	}
	if sel["topping"][0] != (menu.Choice{OptionID: "pep", Placement: "left"}) {
		t.Errorf("topping[0]: %v", sel["topping"][0])
	}
}

func TestNormalize(t *testing.T) {
	loc := geo.Point{Lat: math.NaN(), Lon: 1}
	o := Normalize(Order{
		ID:        uuid.New(),
		CreatedAt: time.Date(2026, 1, 2, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600)),
		Location:  &loc,
		Lines: []Line{
			{ItemID: "soda", Quantity: 2, UnitPrice: decimal.RequireFromString("2.25"),
				Options: []menu.SelectedOption{{Group: "size", OptionID: "soda-m"}}},
		},
	})
	if o.Status != "pending" {
		t.Errorf("status: got %q", o.Status)
	}
	if !o.Total.Equal(decimal.RequireFromString("4.50")) {
		t.Errorf("total: got %s", o.Total)
	}
	if o.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at not UTC")
	}
	if o.Location != nil {
		t.Errorf("invalid location should be dropped")
	}
	if o.Lines[0].Options[0].Placement != "whole" {
		t.Errorf("placement: got %q", o.Lines[0].Options[0].Placement)
	}
	if Normalize(Order{}).Lines == nil {
		t.Errorf("lines should be non-nil")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	p := geo.Point{Lat: 1, Lon: 2}
	o := Order{Location: &p, Lines: []Line{{ItemID: "a", Options: []menu.SelectedOption{{OptionID: "x"}}}}}
	c := o.Clone()
	c.Location.Lat = 9
	c.Lines[0].Options[0].OptionID = "y"
	if o.Location.Lat != 1 || o.Lines[0].Options[0].OptionID != "x" {
		t.Fatal("clone shares memory with original")
	}
}

func TestStatusUpdateWireShape(t *testing.T) {
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	b, err := json.Marshal(Order{ID: id, Status: "ready", Revision: 3}.Update())
	if err != nil {
		t.Fatal(err)
	}
	want := `{"order_id":"7c9e6679-7425-40de-944b-e07fc1f90ae7","status":"ready","revision":3}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/checkout"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/shopspring/decimal"
)

var (
	restaurantID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	nashville    = geo.Point{Lat: 36.1627, Lon: -86.7816}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// --- Mocks ---

type published struct {
	room, event string
	payload     []byte
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, room, event string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{room, event, payload})
	return nil
}

func (p *recordingPublisher) rooms(event string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e.room)
		}
	}
	return out
}

// --- Helpers ---

func testCatalog(t *testing.T) *menu.Catalog {
	t.Helper()
	c, err := menu.NewCatalog(
		menu.MenuItem{ID: "pizza", Name: "Pizza", BasePrice: dec("10.00"), Groups: []menu.OptionGroup{
			{Key: "size", Mode: "single", Required: true, Options: []menu.Option{{ID: "sz-s", Name: "Small", Price: dec("0")}}},
			{Key: "topping", Mode: "multiple", Max: 3, Options: []menu.Option{
				{ID: "pep", Name: "Pepperoni", Price: dec("1.00"), HalfEligible: true},
			}},
		}},
		menu.MenuItem{ID: "soda", Name: "Soda", BasePrice: dec("2.25")},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func newService(t *testing.T, opts ...Option) (*OrderService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub)}, opts...)
	svc := NewOrderService(testCatalog(t), []Restaurant{{
		ID:       restaurantID,
		Checkout: checkout.New(nashville),
		Fees:     checkout.Fees{TaxRate: decimal.Zero},
	}}, opts...)
	return svc, pub
}

func pizzaItem(qty int) order.ItemRequest {
	return order.ItemRequest{ItemID: "pizza", Quantity: qty, Options: []order.OptionRef{
		{Group: "size", OptionID: "sz-s"},
		{Group: "topping", OptionID: "pep", Placement: "left"},
	}}
}

func dineInRequest() order.CreateRequest {
	return order.CreateRequest{
		Type:    "dine_in",
		TableID: "T4",
		Phone:   "(615) 555-0123",
		UserID:  "cust-1",
		Items:   []order.ItemRequest{pizzaItem(1), {ItemID: "soda", Quantity: 2}},
	}
}

func deliveryRequest(loc geo.Point, qty int) order.CreateRequest {
	return order.CreateRequest{
		Type:         "delivery",
		Address:      "1 Broadway",
		Location:     &loc,
		Phone:        "1-615-555-0123",
		UserID:       "cust-2",
		PaymentToken: "tok_test",
		Items:        []order.ItemRequest{pizzaItem(qty)},
	}
}

func staff(role string) Caller { return Caller{Role: role, RestaurantID: restaurantID} }

// --- Create ---

func TestCreateOrder_PricesAndNumbers(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()

	first, err := svc.CreateOrder(ctx, restaurantID, dineInRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.OrderNumber != "KWR-001" || first.Status != "pending" || first.Revision != 1 {
		t.Errorf("unexpected order header: %s %s@%d", first.OrderNumber, first.Status, first.Revision)
	}
	// 10.00 + 1.00 pepperoni, plus 2 × 2.25
	if !first.Total.Equal(dec("15.50")) {
		t.Errorf("total: got %s, want 15.50", first.Total)
	}
	if first.Phone != "6155550123" {
		t.Errorf("phone: got %q", first.Phone)
	}
	if got := first.Lines[0].Options[1].Placement; got != "left" {
		t.Errorf("placement: got %q", got)
	}

	second, err := svc.CreateOrder(ctx, restaurantID, dineInRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.OrderNumber != "KWR-002" {
		t.Errorf("second number: got %s", second.OrderNumber)
	}

	rooms := pub.rooms("newOrder")
	if len(rooms) != 4 || rooms[0] != "kitchen:"+restaurantID.String() || rooms[1] != "cashier:"+restaurantID.String() {
		t.Errorf("newOrder rooms: %v", rooms)
	}
}

func TestCreateOrder_DeliveryChecks(t *testing.T) {
	memphis := geo.Point{Lat: 35.1495, Lon: -90.0490}
	nearby := geo.Point{Lat: 36.17, Lon: -86.78}
	tests := []struct {
		name string
		req  order.CreateRequest
		code apperr.Code
	}{
		{"below minimum", deliveryRequest(nearby, 1), apperr.CodeMinimumNotMet},
		{"out of radius", deliveryRequest(memphis, 3), apperr.CodeOutOfRadius},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t)
			_, err := svc.CreateOrder(context.Background(), restaurantID, tt.req)
			if apperr.CodeOf(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}

	svc, _ := newService(t)
	o, err := svc.CreateOrder(context.Background(), restaurantID, deliveryRequest(nearby, 3))
	if err != nil {
		t.Fatalf("valid delivery rejected: %v", err)
	}
	if !o.HasLocation() || !o.Total.Equal(dec("33.00")) {
		t.Errorf("delivery order: location=%v total=%s", o.HasLocation(), o.Total)
	}
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	req := dineInRequest()
	req.Items = []order.ItemRequest{{ItemID: "lasagna", Quantity: 1}}
	if _, err := svc.CreateOrder(ctx, restaurantID, req); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("expected ErrUnknownItem, got %v", err)
	}

	req = dineInRequest()
	req.Items = []order.ItemRequest{{ItemID: "pizza", Quantity: 1}}
	if _, err := svc.CreateOrder(ctx, restaurantID, req); apperr.CodeOf(err) != apperr.CodeMissingRequiredOption {
		t.Errorf("expected missing required option, got %v", err)
	}

	req = dineInRequest()
	req.TableID = ""
	if _, err := svc.CreateOrder(ctx, restaurantID, req); !errors.Is(err, order.ErrMissingTable) {
		t.Errorf("expected ErrMissingTable, got %v", err)
	}

	if _, err := svc.CreateOrder(ctx, uuid.New(), dineInRequest()); !errors.Is(err, ErrRestaurantNotFound) {
		t.Errorf("expected ErrRestaurantNotFound, got %v", err)
	}
}

// --- Transitions ---

func TestUpdateStatus_BumpsRevisionAndPublishes(t *testing.T) {
	svc, pub := newService(t)
	ctx := context.Background()
	o, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())

	updated, err := svc.UpdateStatus(ctx, staff("kitchen"), o.ID, "in_progress", 0)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != "in_progress" || updated.Revision != 2 {
		t.Fatalf("got %s@%d", updated.Status, updated.Revision)
	}

	rooms := pub.rooms("orderUpdated")
	if len(rooms) != 3 || rooms[2] != "order:"+o.ID.String() {
		t.Fatalf("orderUpdated rooms: %v", rooms)
	}
	var payload order.StatusUpdate
	if err := json.Unmarshal(pub.events[len(pub.events)-1].payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.OrderID != o.ID || payload.Status != "in_progress" || payload.Revision != 2 {
		t.Errorf("payload: %+v", payload)
	}
}

func TestUpdateStatus_Rejections(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	o, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())

	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), o.ID, "paid", 0); !errors.Is(err, lifecycle.ErrTransitionDenied) {
		t.Errorf("expected ErrTransitionDenied, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), o.ID, "in_progress", 7); !errors.Is(err, ErrStaleRevision) {
		t.Errorf("expected ErrStaleRevision, got %v", err)
	}
	other := Caller{Role: "kitchen", RestaurantID: uuid.New()}
	if _, err := svc.UpdateStatus(ctx, other, o.ID, "in_progress", 0); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), uuid.New(), "in_progress", 0); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	got, _ := svc.GetOrder(ctx, staff("kitchen"), o.ID)
	if got.Status != "pending" || got.Revision != 1 {
		t.Errorf("rejected updates changed the order: %s@%d", got.Status, got.Revision)
	}
}

func TestUpdateStatus_ConcurrentRequestsSerialize(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	o, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.UpdateStatus(ctx, staff("cashier"), o.ID, "paid", 1); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("expected exactly one winner, got %d", successes)
	}
	got, _ := svc.GetOrder(ctx, staff("cashier"), o.ID)
	if got.Revision != 2 {
		t.Errorf("revision: got %d, want 2", got.Revision)
	}
}

// --- Read ---

func TestListOrders_FiltersByRole(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	dine, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())
	del, err := svc.CreateOrder(ctx, restaurantID, deliveryRequest(geo.Point{Lat: 36.17, Lon: -86.78}, 3))
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), del.ID, "in_progress", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), del.ID, "ready", 0); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		role, user string
		want       []uuid.UUID
	}{
		{"kitchen", "", []uuid.UUID{dine.ID}},
		{"cashier", "", []uuid.UUID{dine.ID}},
		{"delivery", "", []uuid.UUID{del.ID}},
		{"customer", "cust-2", []uuid.UUID{del.ID}},
		{"customer", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+tt.user, func(t *testing.T) {
			got, err := svc.ListOrders(ctx, restaurantID, tt.role, tt.user)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d orders, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("order %d: got %s", i, got[i].OrderNumber)
				}
			}
		})
	}

	if _, err := svc.ListOrders(ctx, restaurantID, "owner", ""); !errors.Is(err, lifecycle.ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestGetOrder_CustomerSeesOnlyOwnOrders(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	o, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())

	if _, err := svc.GetOrder(ctx, Caller{Role: "customer", UserID: "cust-1"}, o.ID); err != nil {
		t.Errorf("owner denied: %v", err)
	}
	if _, err := svc.GetOrder(ctx, Caller{Role: "customer", UserID: "someone-else"}, o.ID); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

// --- Persistence ---

func TestLoadRestoresOrdersAndNumbering(t *testing.T) {
	store := kvstore.NewMemory()
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	svc, _ := newService(t, WithStore(store), WithClock(clock))
	a, _ := svc.CreateOrder(ctx, restaurantID, dineInRequest())
	if _, err := svc.CreateOrder(ctx, restaurantID, dineInRequest()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateStatus(ctx, staff("kitchen"), a.ID, "in_progress", 0); err != nil {
		t.Fatal(err)
	}

	restored, _ := newService(t, WithStore(store))
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, err := restored.GetOrder(ctx, staff("kitchen"), a.ID)
	if err != nil {
		t.Fatalf("restored order: %v", err)
	}
	if got.Status != "in_progress" || got.Revision != 2 || !got.CreatedAt.Equal(clock()) {
		t.Errorf("restored: %s@%d at %s", got.Status, got.Revision, got.CreatedAt)
	}

	next, err := restored.CreateOrder(ctx, restaurantID, dineInRequest())
	if err != nil {
		t.Fatal(err)
	}
	if next.OrderNumber != "KWR-003" {
		t.Errorf("numbering should continue, got %s", next.OrderNumber)
	}
}

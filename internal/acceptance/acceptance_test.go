package acceptance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/auth"
	"github.com/kiwari-pos/orderflow/internal/backend"
	"github.com/kiwari-pos/orderflow/internal/cart"
	"github.com/kiwari-pos/orderflow/internal/checkout"
	"github.com/kiwari-pos/orderflow/internal/config"
	"github.com/kiwari-pos/orderflow/internal/dashboard"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"github.com/kiwari-pos/orderflow/internal/router"
	"github.com/kiwari-pos/orderflow/internal/service"
	"github.com/kiwari-pos/orderflow/internal/ws"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

const jwtSecret = "acceptance-secret"

var (
	restaurantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	restaurant   = geo.Point{Lat: 36.1627, Lon: -86.7816}
	nearby       = geo.Point{Lat: 36.1700, Lon: -86.7800}
)

// loopbackPublisher feeds service events into an in-process channel.
type loopbackPublisher struct{ lb *realtime.Loopback }

func (p loopbackPublisher) Publish(_ context.Context, room, event string, payload []byte) error {
	_, err := p.lb.Publish(room, event, json.RawMessage(payload))
	return err
}

type world struct {
	ctx     context.Context
	catalog *menu.Catalog

	svc    *service.OrderService
	server *httptest.Server
	lb     *realtime.Loopback
	dash   *dashboard.Dashboard

	cart        *cart.Cart
	orderType   string
	location    *geo.Point
	phone       string
	checkoutErr error
	placed      order.Order

	orders map[string]order.Order
}

func (w *world) reset() {
	w.ctx = context.Background()
	w.catalog = nil
	w.svc, w.server, w.lb, w.dash = nil, nil, nil, nil
	w.cart, w.orderType, w.location, w.phone = nil, "", nil, ""
	w.checkoutErr = nil
	w.placed = order.Order{}
	w.orders = make(map[string]order.Order)
}

func (w *world) teardown() {
	if w.dash != nil {
		w.dash.Stop()
	}
	if w.server != nil {
		w.server.Close()
	}
}

func token(role, user string) (string, error) {
	return auth.GenerateToken(jwtSecret, user, restaurantID, role, time.Hour)
}

func parseMoney(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// --- Setup ---

func (w *world) theMenuHas(first, firstPrice, second, secondPrice string) error {
	c, err := menu.NewCatalog(
		menu.MenuItem{ID: first, Name: first, BasePrice: parseMoney(firstPrice)},
		menu.MenuItem{ID: second, Name: second, BasePrice: parseMoney(secondPrice)},
	)
	if err != nil {
		return err
	}
	w.catalog = c
	return nil
}

func (w *world) theOrderServiceIsRunning() error {
	w.lb = realtime.NewLoopback()
	w.svc = service.NewOrderService(w.catalog, []service.Restaurant{{
		ID:       restaurantID,
		Checkout: checkout.New(restaurant),
	}}, service.WithPublisher(loopbackPublisher{w.lb}))

	cfg := &config.Config{JWTSecret: jwtSecret}
	w.server = httptest.NewServer(router.New(cfg, w.svc, ws.NewHub(nil), nil))
	return nil
}

func (w *world) aDashboardIsOpen(role string) error {
	tok, err := token(role, role+"-1")
	if err != nil {
		return err
	}
	d, err := dashboard.New(dashboard.Config{
		Role:         role,
		RestaurantID: restaurantID,
		UserID:       role + "-1",
		PollInterval: 20 * time.Millisecond,
	}, backend.New(w.server.URL, tok), w.lb, nil, nil)
	if err != nil {
		return err
	}
	if err := d.Start(w.ctx); err != nil {
		return err
	}
	w.dash = d
	return nil
}

// --- Cart and checkout ---

func (w *world) anEmptyDeliveryCart(phone string) error {
	tok, err := token(enum.RoleCustomer, "cust-1")
	if err != nil {
		return err
	}
	c, err := cart.Open(w.ctx, kvstore.NewMemory(), backend.New(w.server.URL, tok), nil)
	if err != nil {
		return err
	}
	p := nearby
	w.cart, w.orderType, w.location, w.phone = c, enum.OrderTypeDelivery, &p, phone
	return nil
}

func (w *world) iAdd(qty int, itemID string) error {
	item, ok := w.catalog.Item(itemID)
	if !ok {
		return fmt.Errorf("no menu item %q", itemID)
	}
	for i := 0; i < qty; i++ {
		if _, err := w.cart.AddLine(w.ctx, item, menu.Selection{}, ""); err != nil {
			return err
		}
	}
	return nil
}

func (w *world) theCartTotalIs(amount string) error {
	if got := w.cart.TotalPrice(); !got.Equal(parseMoney(amount)) {
		return fmt.Errorf("cart total: got %s, want %s", got.StringFixed(2), amount)
	}
	return nil
}

func (w *world) validate() (checkout.Result, error) {
	return checkout.New(restaurant).Validate(checkout.Input{
		OrderType: w.orderType,
		LineCount: w.cart.Len(),
		Total:     w.cart.TotalPrice(),
		Location:  w.location,
		Phone:     w.phone,
	})
}

func (w *world) checkoutIsBlockedWith(message string) error {
	_, err := w.validate()
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return fmt.Errorf("expected a validation error, got %v", err)
	}
	if got := ae.Message(language.English); got != message {
		return fmt.Errorf("message: got %q, want %q", got, message)
	}
	return nil
}

func (w *world) checkoutIsAllowed() error {
	_, err := w.validate()
	return err
}

func (w *world) iSubmitTheCart() error {
	res, err := w.validate()
	if err != nil {
		return err
	}
	w.placed, err = w.cart.Submit(w.ctx, cart.SubmitRequest{
		RestaurantID: restaurantID,
		Type:         w.orderType,
		Address:      "1 Broadway",
		Location:     w.location,
		Phone:        res.Phone,
		UserID:       "cust-1",
	})
	return err
}

func (w *world) theOrderIsPlacedAs(number, total string) error {
	if w.placed.OrderNumber != number {
		return fmt.Errorf("order number: got %q, want %q", w.placed.OrderNumber, number)
	}
	if !w.placed.Total.Equal(parseMoney(total)) {
		return fmt.Errorf("total: got %s, want %s", w.placed.Total, total)
	}
	if len(w.cart.History()) != 1 {
		return fmt.Errorf("history: got %d orders, want 1", len(w.cart.History()))
	}
	return nil
}

func (w *world) theCartIsEmpty() error {
	if n := w.cart.Len(); n != 0 {
		return fmt.Errorf("cart has %d lines", n)
	}
	return nil
}

func (w *world) theCartHasLineWithQuantity(lines, qty int) error {
	got := w.cart.Lines()
	if len(got) != lines {
		return fmt.Errorf("lines: got %d, want %d", len(got), lines)
	}
	if got[0].Quantity != qty {
		return fmt.Errorf("quantity: got %d, want %d", got[0].Quantity, qty)
	}
	return nil
}

func thePhoneNormalizesTo(raw, digits string) error {
	got, ok := checkout.NormalizePhone(raw)
	if !ok || got != digits {
		return fmt.Errorf("NormalizePhone(%q) = %q, %v; want %q", raw, got, ok, digits)
	}
	return nil
}

func thePhoneIsRejected(raw string) error {
	if _, ok := checkout.NormalizePhone(raw); ok {
		return fmt.Errorf("phone %q should be rejected", raw)
	}
	return nil
}

// --- Lifecycle ---

func fromTheRoleMayMoveTo(from, role, list string) error {
	var want []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			want = append(want, s)
		}
	}
	got := lifecycle.NextStates(role, from)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("%s from %s: got %v, want %v", role, from, got, want)
	}
	return nil
}

func movingIsRejected(from, to, role string) error {
	if err := lifecycle.CanTransition(role, from, to); !errors.Is(err, lifecycle.ErrTransitionDenied) {
		return fmt.Errorf("%s → %s as %s: got %v, want ErrTransitionDenied", from, to, role, err)
	}
	return nil
}

// --- Dashboards ---

func (w *world) aCustomerPlacesADineInOrder(label, table string) error {
	tok, err := token(enum.RoleCustomer, "cust-"+label)
	if err != nil {
		return err
	}
	o, err := backend.New(w.server.URL, tok).CreateOrder(w.ctx, restaurantID, order.CreateRequest{
		Type:    enum.OrderTypeDineIn,
		TableID: table,
		Phone:   "615-555-0100",
		Items:   []order.ItemRequest{{ItemID: "burger", Quantity: 1}},
	})
	if err != nil {
		return err
	}
	w.orders[label] = o
	return nil
}

func (w *world) theDashboardShows(n int) error {
	if got := len(w.dash.Orders()); got != n {
		return fmt.Errorf("dashboard shows %d orders, want %d", got, n)
	}
	return nil
}

func (w *world) theDashboardMovesOrder(label, status string) error {
	o, ok := w.orders[label]
	if !ok {
		return fmt.Errorf("no order %q", label)
	}
	_, err := w.dash.Advance(w.ctx, o.ID, status)
	return err
}

func (w *world) theNewOrderEventIsDeliveredAgain(label string) error {
	o := w.orders[label]
	delivered, err := w.lb.Publish(realtime.KitchenRoom(restaurantID), enum.EventNewOrder, o)
	if err != nil {
		return err
	}
	if !delivered {
		return errors.New("event was not delivered")
	}
	return nil
}

func (w *world) orderIsOnTheDashboard(label, status string) error {
	o, ok := w.dash.Order(w.orders[label].ID)
	if !ok {
		return fmt.Errorf("order %q not on the dashboard", label)
	}
	if o.Status != status {
		return fmt.Errorf("status: got %q, want %q", o.Status, status)
	}
	return nil
}

func (w *world) theRealtimeChannelDisconnects() error {
	w.lb.SetConnected(false)
	return nil
}

func (w *world) theServiceMovesOrder(label, status, role string) error {
	caller := service.Caller{Role: role, UserID: role + "-1", RestaurantID: restaurantID}
	_, err := w.svc.UpdateStatus(w.ctx, caller, w.orders[label].ID, status, 0)
	return err
}

func (w *world) theDashboardMatchesTheService() error {
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := w.compareWithService()
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (w *world) compareWithService() error {
	want, err := w.svc.ListOrders(w.ctx, restaurantID, w.dash.Role(), "")
	if err != nil {
		return err
	}
	got := make(map[uuid.UUID]order.Order)
	for _, o := range w.dash.Orders() {
		got[o.ID] = o
	}
	if len(got) != len(want) {
		return fmt.Errorf("dashboard has %d orders, service has %d", len(got), len(want))
	}
	for _, o := range want {
		g, ok := got[o.ID]
		if !ok {
			return fmt.Errorf("order %s missing from the dashboard", o.OrderNumber)
		}
		if g.Status != o.Status || g.Revision != o.Revision {
			return fmt.Errorf("order %s: dashboard %s@%d, service %s@%d",
				o.OrderNumber, g.Status, g.Revision, o.Status, o.Revision)
		}
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	w := &world{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		w.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		w.teardown()
		return ctx, nil
	})

	// Setup
	ctx.Step(`^the menu has "([^"]*)" at \$(\d+\.\d{2}) and "([^"]*)" at \$(\d+\.\d{2})$`, w.theMenuHas)
	ctx.Step(`^the order service is running$`, w.theOrderServiceIsRunning)
	ctx.Step(`^a "([^"]*)" dashboard is open$`, w.aDashboardIsOpen)

	// Cart and checkout
	ctx.Step(`^an empty delivery cart near the restaurant with phone "([^"]*)"$`, w.anEmptyDeliveryCart)
	ctx.Step(`^I add (\d+) "([^"]*)"$`, w.iAdd)
	ctx.Step(`^the cart total is \$(\d+\.\d{2})$`, w.theCartTotalIs)
	ctx.Step(`^checkout is blocked with "([^"]*)"$`, w.checkoutIsBlockedWith)
	ctx.Step(`^checkout is allowed$`, w.checkoutIsAllowed)
	ctx.Step(`^I submit the cart$`, w.iSubmitTheCart)
	ctx.Step(`^the order is placed as "([^"]*)" with total \$(\d+\.\d{2})$`, w.theOrderIsPlacedAs)
	ctx.Step(`^the cart is empty$`, w.theCartIsEmpty)
	ctx.Step(`^the cart has (\d+) lines? with quantity (\d+)$`, w.theCartHasLineWithQuantity)
	ctx.Step(`^the phone "([^"]*)" normalizes to "([^"]*)"$`, thePhoneNormalizesTo)
	ctx.Step(`^the phone "([^"]*)" is rejected$`, thePhoneIsRejected)

	// Lifecycle
	ctx.Step(`^from "([^"]*)" the "([^"]*)" may move to "([^"]*)"$`, fromTheRoleMayMoveTo)
	ctx.Step(`^moving from "([^"]*)" to "([^"]*)" as "([^"]*)" is rejected$`, movingIsRejected)

	// Dashboards
	ctx.Step(`^a customer places a dine-in order "([^"]*)" at table "([^"]*)"$`, w.aCustomerPlacesADineInOrder)
	ctx.Step(`^the dashboard shows (\d+) orders?$`, w.theDashboardShows)
	ctx.Step(`^the dashboard moves order "([^"]*)" to "([^"]*)"$`, w.theDashboardMovesOrder)
	ctx.Step(`^the newOrder event for order "([^"]*)" is delivered again$`, w.theNewOrderEventIsDeliveredAgain)
	ctx.Step(`^order "([^"]*)" is "([^"]*)" on the dashboard$`, w.orderIsOnTheDashboard)
	ctx.Step(`^the realtime channel disconnects$`, w.theRealtimeChannelDisconnects)
	ctx.Step(`^the service moves order "([^"]*)" to "([^"]*)" as "([^"]*)"$`, w.theServiceMovesOrder)
	ctx.Step(`^after the poll interval the dashboard matches the service$`, w.theDashboardMatchesTheService)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

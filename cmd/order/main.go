// Command order is a terminal ordering client: browse the menu, build a
// cart, check out and follow past orders.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/backend"
	"github.com/kiwari-pos/orderflow/internal/cart"
	"github.com/kiwari-pos/orderflow/internal/checkout"
	"github.com/kiwari-pos/orderflow/internal/config"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/logging"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/pricing"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

type session struct {
	cfg       *config.Config
	catalog   *menu.Catalog
	cart      *cart.Cart
	validator *checkout.Validator
	fees      checkout.Fees
	lang      language.Tag
	user      string

	orderType string
	table     string
	address   string
	phone     string
	location  *geo.Point
}

func main() {
	user := flag.String("user", "", "User ID the token was issued to")
	token := flag.String("token", os.Getenv("ORDERFLOW_TOKEN"), "Access token")
	lat := flag.Float64("lat", 0, "Device latitude for delivery orders")
	lon := flag.Float64("lon", 0, "Device longitude for delivery orders")
	flag.Parse()

	if err := run(*user, *token, *lat, *lon); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(user, token string, lat, lon float64) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalog, err := menu.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	store, err := kvstore.Open(ctx, cfg.StoreDriver, cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	c, err := cart.Open(ctx, store, backend.New(cfg.BackendURL, token), logger)
	if err != nil {
		return err
	}

	s := &session{
		cfg:       cfg,
		catalog:   catalog,
		cart:      c,
		validator: cfg.Checkout(),
		fees:      cfg.Fees(),
		lang:      apperr.ParseLanguage(cfg.Lang),
		user:      user,
		orderType: enum.OrderTypeDineIn,
	}

	// A fixed position stands in for the device's location service.
	locator := geo.LocatorFunc(func(context.Context) (geo.Point, error) {
		if lat == 0 && lon == 0 {
			return geo.Point{}, errors.New("no position fix")
		}
		return geo.Point{Lat: lat, Lon: lon}, nil
	})
	if p, ok := geo.Acquire(ctx, locator, 0); ok {
		s.location = &p
		// No geocoding collaborator is configured for the terminal client.
		fmt.Println("delivering from", geo.Describe(ctx, nil, p))
	} else {
		logger.Debug("device location unavailable")
	}

	fmt.Println("commands: menu | add <item> [group=option[@left|right] ...] [-- comment] | qty <n> <delta> | rm <n> | cart")
	fmt.Println("          table <id> | deliver <address> | phone <number> | checkout | history | quit")

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if quit := s.execute(ctx, sc.Text(), logger); quit {
			return nil
		}
	}
	return sc.Err()
}

func (s *session) execute(ctx context.Context, line string, logger *zap.Logger) (quit bool) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), args[0]))
	switch args[0] {
	case "quit", "exit":
		return true
	case "menu":
		s.printMenu()
	case "add":
		s.add(ctx, rest)
	case "qty":
		if len(args) != 3 {
			fmt.Println("usage: qty <n> <delta>")
			return false
		}
		key, ok := s.lineKey(args[1])
		delta, err := strconv.Atoi(args[2])
		if !ok || err != nil {
			fmt.Println("usage: qty <n> <delta>")
			return false
		}
		if err := s.cart.UpdateQuantity(ctx, key, delta); err != nil {
			fmt.Println(err)
		}
		s.printCart()
	case "rm":
		key, ok := "", false
		if len(args) == 2 {
			key, ok = s.lineKey(args[1])
		}
		if !ok {
			fmt.Println("usage: rm <n>")
			return false
		}
		if err := s.cart.RemoveLine(ctx, key); err != nil {
			fmt.Println(err)
		}
		s.printCart()
	case "cart":
		s.printCart()
	case "table":
		s.orderType, s.table = enum.OrderTypeDineIn, rest
	case "deliver":
		s.orderType, s.address = enum.OrderTypeDelivery, rest
	case "phone":
		s.phone = rest
	case "checkout":
		s.checkout(ctx, logger)
	case "history":
		for _, o := range s.cart.History() {
			fmt.Printf("%s  %s  %s  $%s\n", o.OrderNumber, o.CreatedAt.Local().Format("Jan 2 15:04"), o.Status, o.Total.StringFixed(2))
		}
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return false
}

func (s *session) printMenu() {
	ids := make([]string, 0, len(s.catalog.Items))
	for id := range s.catalog.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		item := s.catalog.Items[id]
		fmt.Printf("%-12s %-24s $%s\n", item.ID, item.Name, item.BasePrice.StringFixed(2))
		for _, g := range item.Groups {
			var opts []string
			for _, o := range g.Options {
				opts = append(opts, fmt.Sprintf("%s(+%s)", o.ID, o.Price.StringFixed(2)))
			}
			fmt.Printf("    %s [%s]: %s\n", g.Key, g.Mode, strings.Join(opts, " "))
		}
	}
}

// add parses "pizza size=large topping=pep@left -- no onions".
func (s *session) add(ctx context.Context, args string) {
	def, comment, _ := strings.Cut(args, "--")
	fields := strings.Fields(def)
	if len(fields) == 0 {
		fmt.Println("usage: add <item> [group=option[@placement] ...] [-- comment]")
		return
	}
	item, ok := s.catalog.Item(fields[0])
	if !ok {
		fmt.Println(apperr.Render(s.lang, apperr.CodeUnknownItem))
		return
	}

	b := pricing.NewBuilder(item)
	for _, f := range fields[1:] {
		group, choice, ok := strings.Cut(f, "=")
		if !ok {
			fmt.Printf("bad option %q\n", f)
			return
		}
		optionID, placement, _ := strings.Cut(choice, "@")
		if err := b.Choose(group, optionID, placement); err != nil {
			fmt.Println(s.message(err))
			return
		}
	}
	if _, err := s.cart.AddLine(ctx, item, b.Selection(), comment); err != nil {
		fmt.Println(s.message(err))
		return
	}
	s.printCart()
}

func (s *session) lineKey(n string) (string, bool) {
	i, err := strconv.Atoi(n)
	lines := s.cart.Lines()
	if err != nil || i < 1 || i > len(lines) {
		return "", false
	}
	return lines[i-1].Key, true
}

func (s *session) printCart() {
	lines := s.cart.Lines()
	if len(lines) == 0 {
		fmt.Println(apperr.Render(s.lang, apperr.CodeEmptyCart))
		return
	}
	for i, l := range lines {
		var opts []string
		for _, o := range l.Options {
			label := o.Name
			if o.Placement != enum.PlacementWhole {
				label += " (" + o.Placement + ")"
			}
			opts = append(opts, label)
		}
		fmt.Printf("%d. %dx %s %s  $%s\n", i+1, l.Quantity, l.Name, strings.Join(opts, ", "), l.Subtotal().StringFixed(2))
		if l.Comment != "" {
			fmt.Printf("     %q\n", l.Comment)
		}
	}
	fmt.Printf("subtotal $%s\n", s.cart.TotalPrice().StringFixed(2))
}

func (s *session) checkout(ctx context.Context, logger *zap.Logger) {
	subtotal := s.cart.TotalPrice()
	res, err := s.validator.Validate(checkout.Input{
		OrderType: s.orderType,
		LineCount: s.cart.Len(),
		Total:     subtotal,
		Location:  s.location,
		Phone:     s.phone,
	})
	if err != nil {
		fmt.Println(s.message(err))
		return
	}

	q := s.fees.Quote(s.orderType, subtotal)
	fmt.Printf("subtotal $%s  delivery $%s  tax $%s  total $%s\n",
		q.Subtotal.StringFixed(2), q.DeliveryFee.StringFixed(2), q.Tax.StringFixed(2), q.Total.StringFixed(2))

	created, err := s.cart.Submit(ctx, cart.SubmitRequest{
		RestaurantID: s.cfg.RestaurantID,
		Type:         s.orderType,
		TableID:      s.table,
		Address:      s.address,
		Location:     s.location,
		Phone:        res.Phone,
		UserID:       s.user,
	})
	if err != nil {
		fmt.Println(s.message(err))
		return
	}
	logger.Info("order placed", zap.String("order_number", created.OrderNumber), zap.Stringer("order_id", created.ID))
	fmt.Printf("placed %s (%s)\n", created.OrderNumber, created.Status)
}

func (s *session) message(err error) string {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	if ae.Detail != "" {
		return ae.Message(s.lang) + " (" + ae.Detail + ")"
	}
	return ae.Message(s.lang)
}

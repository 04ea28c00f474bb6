// Command dashboard runs a staff or customer order dashboard in the terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/backend"
	"github.com/kiwari-pos/orderflow/internal/config"
	"github.com/kiwari-pos/orderflow/internal/dashboard"
	"github.com/kiwari-pos/orderflow/internal/logging"
	"github.com/kiwari-pos/orderflow/internal/notify"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

func main() {
	role := flag.String("role", "kitchen", "Dashboard role: kitchen, cashier, delivery or customer")
	user := flag.String("user", "", "User ID the token was issued to")
	token := flag.String("token", os.Getenv("ORDERFLOW_TOKEN"), "Access token")
	flag.Parse()

	if err := run(*role, *user, *token); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(role, user, token string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	lang := apperr.ParseLanguage(cfg.Lang)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := channel(cfg, token, logger)
	if err != nil {
		return err
	}

	announcer := &notify.Announcer{
		Chime:    notify.BellChime{W: os.Stdout},
		Notifier: notify.LogNotifier{Logger: logger},
		Speaker:  notify.LogSpeaker{Logger: logger},
		Logger:   logger,
	}
	d, err := dashboard.New(dashboard.Config{
		Role:         role,
		RestaurantID: cfg.RestaurantID,
		UserID:       user,
		PollInterval: cfg.PollInterval,
	}, backend.New(cfg.BackendURL, token), ch, announcer, logger)
	if err != nil {
		return err
	}

	d.Observe(func(orders []order.Order) { render(os.Stdout, d.Role(), orders) })
	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Println(`commands: advance <order> <status> | next <order> | track <order-id> | refresh | quit`)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := execute(ctx, d, strings.Fields(line), lang); quit {
				return nil
			}
		}
	}
}

// channel builds the configured realtime transport.
func channel(cfg *config.Config, token string, logger *zap.Logger) (realtime.Channel, error) {
	if cfg.RealtimeTransport == "amqp" {
		if cfg.AMQPURL == "" {
			return nil, errors.New("AMQP_URL is required for the amqp transport")
		}
		return realtime.NewAMQP(cfg.AMQPURL, logger), nil
	}
	u, err := url.Parse(cfg.RealtimeURL)
	if err != nil {
		return nil, fmt.Errorf("REALTIME_URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return realtime.NewWebSocket(u.String(), logger), nil
}

func execute(ctx context.Context, d *dashboard.Dashboard, args []string, lang language.Tag) (quit bool) {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "quit", "exit":
		return true
	case "refresh":
		if err := d.Refresh(ctx); err != nil {
			fmt.Println(userMessage(err, lang))
		}
	case "next":
		if len(args) != 2 {
			fmt.Println("usage: next <order>")
			return false
		}
		o, ok := find(d, args[1])
		if !ok {
			fmt.Println(apperr.Render(lang, apperr.CodeOrderNotFound))
			return false
		}
		fmt.Printf("%s (%s): %s\n", o.OrderNumber, o.Status, strings.Join(d.NextStates(o.ID), ", "))
	case "advance":
		if len(args) != 3 {
			fmt.Println("usage: advance <order> <status>")
			return false
		}
		o, ok := find(d, args[1])
		if !ok {
			fmt.Println(apperr.Render(lang, apperr.CodeOrderNotFound))
			return false
		}
		if _, err := d.Advance(ctx, o.ID, args[2]); err != nil {
			fmt.Println(userMessage(err, lang))
		}
	case "track":
		if len(args) != 2 {
			fmt.Println("usage: track <order-id>")
			return false
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			fmt.Println("invalid order ID")
			return false
		}
		if err := d.Track(ctx, id); err != nil {
			fmt.Println(userMessage(err, lang))
		}
	default:
		fmt.Printf("unknown command %q\n", args[0])
	}
	return false
}

// find matches an order by number (KWR-007) or by id prefix.
func find(d *dashboard.Dashboard, ref string) (order.Order, bool) {
	for _, o := range d.Orders() {
		if strings.EqualFold(o.OrderNumber, ref) || strings.HasPrefix(o.ID.String(), strings.ToLower(ref)) {
			return o, true
		}
	}
	return order.Order{}, false
}

func userMessage(err error, lang language.Tag) string {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	if ae.Detail != "" {
		return ae.Message(lang) + " (" + ae.Detail + ")"
	}
	return ae.Message(lang)
}

func render(w io.Writer, role string, orders []order.Order) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "\n== %s: %d open ==\n", role, len(orders))
	fmt.Fprintln(tw, "ORDER\tTYPE\tWHERE\tSTATUS\tTOTAL\tREV")
	for _, o := range orders {
		where := o.TableID
		if o.IsDelivery() {
			where = o.Address
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t$%s\t%d\n", o.OrderNumber, o.Type, where, o.Status, o.Total.StringFixed(2), o.Revision)
	}
	tw.Flush()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwari-pos/orderflow/internal/config"
	"github.com/kiwari-pos/orderflow/internal/kvstore"
	"github.com/kiwari-pos/orderflow/internal/logging"
	"github.com/kiwari-pos/orderflow/internal/menu"
	"github.com/kiwari-pos/orderflow/internal/realtime"
	"github.com/kiwari-pos/orderflow/internal/router"
	"github.com/kiwari-pos/orderflow/internal/service"
	"github.com/kiwari-pos/orderflow/internal/ws"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
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

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	opts := []service.Option{
		service.WithPublisher(hub),
		service.WithStore(store),
		service.WithLogger(logger),
	}
	if cfg.AMQPURL != "" {
		pub, err := realtime.DialPublisher(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer pub.Close()
		opts = append(opts, service.WithPublisher(pub))
		logger.Info("publishing order events to broker", zap.String("exchange", realtime.DefaultExchange))
	}

	svc := service.NewOrderService(catalog, []service.Restaurant{{
		ID:       cfg.RestaurantID,
		Checkout: cfg.Checkout(),
		Fees:     cfg.Fees(),
	}}, opts...)
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("restore orders: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.New(cfg, svc, hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.Stringer("restaurant_id", cfg.RestaurantID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/checkout"
	"github.com/kiwari-pos/orderflow/internal/geo"
	"github.com/kiwari-pos/orderflow/internal/poller"
	"github.com/shopspring/decimal"
)

type Config struct {
	Port      string
	JWTSecret string
	Env       string
	LogLevel  string
	Lang      string

	// Comma-separated browser origins allowed by CORS.
	CORSOrigins string

	// Client side
	BackendURL        string
	RealtimeURL       string
	RealtimeTransport string
	AMQPURL           string
	PollInterval      time.Duration
	StoreDriver       string
	StoreDSN          string

	// Restaurant
	RestaurantID     uuid.UUID
	Restaurant       geo.Point
	RadiusMiles      float64
	MinDeliveryTotal decimal.Decimal
	DeliveryFee      decimal.Decimal
	TaxRate          decimal.Decimal
	CatalogPath      string
}

// Load reads the environment. Malformed numeric values are reported rather
// than silently replaced by their defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:              getEnv("PORT", "8081"),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		Env:               getEnv("APP_ENV", "production"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Lang:              getEnv("LANG", "en"),
		CORSOrigins:       os.Getenv("CORS_ORIGINS"),
		BackendURL:        getEnv("BACKEND_URL", "http://localhost:8081"),
		RealtimeURL:       getEnv("REALTIME_URL", "ws://localhost:8081/ws"),
		RealtimeTransport: getEnv("REALTIME_TRANSPORT", "websocket"),
		AMQPURL:           os.Getenv("AMQP_URL"),
		StoreDriver:       getEnv("STORE_DRIVER", "sqlite"),
		StoreDSN:          getEnv("STORE_DSN", "orderflow.db"),
		CatalogPath:       getEnv("CATALOG_PATH", "configs/catalog.example.yaml"),
	}

	var err error
	rid := getEnv("RESTAURANT_ID", "00000000-0000-0000-0000-000000000001")
	if cfg.RestaurantID, err = uuid.Parse(rid); err != nil {
		return nil, fmt.Errorf("RESTAURANT_ID: %w", err)
	}
	if cfg.Restaurant.Lat, err = getFloat("RESTAURANT_LAT", 36.1627); err != nil {
		return nil, err
	}
	if cfg.Restaurant.Lon, err = getFloat("RESTAURANT_LON", -86.7816); err != nil {
		return nil, err
	}
	if cfg.RadiusMiles, err = getFloat("DELIVERY_RADIUS_MILES", checkout.DefaultRadiusMiles); err != nil {
		return nil, err
	}
	if cfg.MinDeliveryTotal, err = getDecimal("MIN_DELIVERY_TOTAL", checkout.DefaultMinDeliveryTotal); err != nil {
		return nil, err
	}
	if cfg.DeliveryFee, err = getDecimal("DELIVERY_FEE", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.TaxRate, err = getDecimal("TAX_RATE", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", poller.DefaultInterval); err != nil {
		return nil, err
	}
	switch cfg.RealtimeTransport {
	case "websocket", "amqp":
	default:
		return nil, fmt.Errorf("REALTIME_TRANSPORT: unsupported %q", cfg.RealtimeTransport)
	}
	return cfg, nil
}

// Checkout builds the delivery rules for the configured restaurant.
func (c *Config) Checkout() *checkout.Validator {
	v := checkout.New(c.Restaurant)
	v.RadiusMiles = c.RadiusMiles
	v.MinDeliveryTotal = c.MinDeliveryTotal
	return v
}

// Fees returns the configured delivery fee and tax rate.
func (c *Config) Fees() checkout.Fees {
	return checkout.Fees{DeliveryFee: c.DeliveryFee, TaxRate: c.TaxRate}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getDecimal(key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

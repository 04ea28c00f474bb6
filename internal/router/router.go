package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/orderflow/internal/config"
	"github.com/kiwari-pos/orderflow/internal/handler"
	mw "github.com/kiwari-pos/orderflow/internal/middleware"
	"github.com/kiwari-pos/orderflow/internal/ws"
	"go.uber.org/zap"
)

// OrderService is what the HTTP and websocket surfaces need from the order
// service.
type OrderService interface {
	handler.OrderServicer
	ws.OrderGetter
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and restaurant scoping as needed.
func New(cfg *config.Config, svc OrderService, hub *ws.Hub, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	authorize := ws.RoomAuthorizer(svc)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, authorize, w, r)
	})

	orderHandler := handler.NewOrderHandler(svc, logger)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/restaurants/{rid}", func(r chi.Router) {
			r.Use(mw.RequireRestaurant)
			r.Route("/orders", orderHandler.RegisterRestaurantRoutes)
		})

		r.Route("/orders", orderHandler.RegisterOrderRoutes)
	})

	return r
}

func allowedOrigins(raw string) []string {
	if raw == "" {
		return []string{"http://localhost:5173"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/apperr"
	"github.com/kiwari-pos/orderflow/internal/enum"
	"github.com/kiwari-pos/orderflow/internal/lifecycle"
	"github.com/kiwari-pos/orderflow/internal/middleware"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/kiwari-pos/orderflow/internal/service"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.OrderService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, restaurantID uuid.UUID, req order.CreateRequest) (order.Order, error)
	GetOrder(ctx context.Context, caller service.Caller, id uuid.UUID) (order.Order, error)
	ListOrders(ctx context.Context, restaurantID uuid.UUID, role, userID string) ([]order.Order, error)
	UpdateStatus(ctx context.Context, caller service.Caller, id uuid.UUID, status string, expectedRevision int64) (order.Order, error)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc    OrderServicer
	logger *zap.Logger
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{svc: svc, logger: logger}
}

// RegisterRestaurantRoutes registers the restaurant-scoped endpoints.
// Expected to be mounted at /restaurants/{rid}/orders.
func (h *OrderHandler) RegisterRestaurantRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Get("/", h.List)
}

// RegisterOrderRoutes registers the per-order endpoints at /orders.
func (h *OrderHandler) RegisterOrderRoutes(r chi.Router) {
	r.Get("/{id}", h.Get)
	r.With(middleware.RequireRole(enum.RoleKitchen, enum.RoleCashier, enum.RoleDelivery)).
		Patch("/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type listOrdersResponse struct {
	Orders []order.Order `json:"orders"`
}

type updateStatusRequest struct {
	Status   string `json:"status"`
	Role     string `json:"role"`
	Revision int64  `json:"revision"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Create handles POST /restaurants/{rid}/orders.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req order.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.RestaurantID = restaurantID
	if claims.Role == enum.RoleCustomer {
		req.UserID = claims.UserID
	}

	created, err := h.svc.CreateOrder(r.Context(), restaurantID, req)
	if err != nil {
		h.writeError(w, r, "create order", err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /restaurants/{rid}/orders?role=&user_id=.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	restaurantID, err := uuid.Parse(chi.URLParam(r, "rid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid restaurant ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		role = claims.Role
	}
	if role != claims.Role {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "role does not match token"})
		return
	}
	userID := r.URL.Query().Get("user_id")
	if claims.Role == enum.RoleCustomer {
		userID = claims.UserID
	}

	orders, err := h.svc.ListOrders(r.Context(), restaurantID, role, userID)
	if err != nil {
		h.writeError(w, r, "list orders", err)
		return
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// Get handles GET /orders/{id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	o, err := h.svc.GetOrder(r.Context(), callerFrom(claims.Role, claims.UserID, claims.RestaurantID), orderID)
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}

	writeJSON(w, http.StatusOK, o)
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status is required"})
		return
	}
	if !lifecycle.ValidStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	if req.Role != "" && req.Role != claims.Role {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "role does not match token"})
		return
	}

	caller := callerFrom(claims.Role, claims.UserID, claims.RestaurantID)
	updated, err := h.svc.UpdateStatus(r.Context(), caller, orderID, req.Status, req.Revision)
	if err != nil {
		h.writeError(w, r, "update order status", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// --- Helpers ---

func callerFrom(role, userID string, restaurantID uuid.UUID) service.Caller {
	return service.Caller{Role: role, UserID: userID, RestaurantID: restaurantID}
}

// writeError maps service errors to HTTP status codes. User-facing errors
// carry their code and a message in the caller's language.
func (h *OrderHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae) && (ae.Kind == apperr.KindValidation || ae.Kind == apperr.KindLimitExceeded):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: ae.Message(requestLanguage(r)),
			Code:  string(ae.Code),
		})
	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, service.ErrRestaurantNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Code: string(apperr.CodeOrderNotFound)})
	case errors.Is(err, service.ErrAccessDenied):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case errors.Is(err, lifecycle.ErrTransitionDenied):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: string(apperr.CodeTransitionNotAllowed)})
	case errors.Is(err, service.ErrStaleRevision):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "stale_revision"})
	default:
		h.logger.Error(op, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// isValidationError checks if the error is a known request-shape error
// that should result in 400 Bad Request.
func isValidationError(err error) bool {
	return errors.Is(err, order.ErrInvalidOrderType) ||
		errors.Is(err, order.ErrMissingTable) ||
		errors.Is(err, order.ErrMissingAddress) ||
		errors.Is(err, order.ErrEmptyItems) ||
		errors.Is(err, order.ErrInvalidQuantity) ||
		errors.Is(err, order.ErrMissingItemID) ||
		errors.Is(err, service.ErrUnknownItem) ||
		errors.Is(err, lifecycle.ErrUnknownRole) ||
		errors.Is(err, lifecycle.ErrUnknownStatus)
}

func requestLanguage(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	return tags[0]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/order"
	"github.com/shopspring/decimal"
)

var (
	rid = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	oid = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fakeService mounts the routes the client calls.
func fakeService(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", "tok-abc")
}

func TestFetchOrders_SendsQueryAndToken(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/restaurants/{rid}/orders", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
			t.Errorf("auth header: %q", got)
		}
		if chi.URLParam(r, "rid") != rid.String() {
			t.Errorf("rid: %s", chi.URLParam(r, "rid"))
		}
		if r.URL.Query().Get("role") != "kitchen" || r.URL.Query().Get("user_id") != "u-1" {
			t.Errorf("query: %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{"orders": []map[string]any{
			{"id": oid, "restaurant_id": rid, "order_type": "dine_in", "lines": []map[string]any{
				{"item_id": "soda", "quantity": 2, "unit_price": "2.25"},
			}},
		}})
	})
	c := fakeService(t, r)

	orders, err := c.FetchOrders(context.Background(), Query{Role: "kitchen", RestaurantID: rid, UserID: "u-1"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != oid {
		t.Fatalf("orders: %+v", orders)
	}
	if orders[0].Status != "pending" || !orders[0].Total.Equal(decimal.RequireFromString("4.50")) {
		t.Errorf("order not normalized: %+v", orders[0])
	}
}

func TestUpdateStatus_SendsRoleAndStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		var body updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Role != "kitchen" || body.Status != "in_progress" {
			t.Errorf("body: %+v", body)
		}
		writeJSON(w, http.StatusOK, order.Order{ID: oid, Status: body.Status, Revision: 2})
	})
	c := fakeService(t, r)

	o, err := c.UpdateStatus(context.Background(), "kitchen", oid, "in_progress")
	if err != nil {
		t.Fatal(err)
	}
	if o.Status != "in_progress" || o.Revision != 2 {
		t.Errorf("order: %+v", o)
	}
}

func TestErrorsCarryServiceText(t *testing.T) {
	r := chi.NewRouter()
	r.Patch("/orders/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot transition from paid to pending", "code": "transition_not_allowed"})
	})
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	})
	r.Post("/restaurants/{rid}/orders", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	c := fakeService(t, r)
	ctx := context.Background()

	_, err := c.UpdateStatus(ctx, "cashier", oid, "pending")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "transition_not_allowed" || apiErr.Message != "cannot transition from paid to pending" {
		t.Errorf("api error: %+v", apiErr)
	}
	if !errors.Is(err, ErrConflict) {
		t.Error("409 should match ErrConflict")
	}

	_, err = c.FetchOrder(ctx, oid)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = c.CreateOrder(ctx, rid, order.CreateRequest{Type: "dine_in", TableID: "T1"})
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream exploded" {
		t.Errorf("plain-text error: %v", err)
	}
}

func TestCreateOrder_PostsPayload(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/restaurants/{rid}/orders", func(w http.ResponseWriter, r *http.Request) {
		var req order.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.RestaurantID != rid || req.PaymentToken != "tok_visa" || len(req.Items) != 1 {
			t.Errorf("payload: %+v", req)
		}
		writeJSON(w, http.StatusCreated, order.Order{ID: oid, RestaurantID: rid, OrderNumber: "KWR-001", Status: "pending"})
	})
	c := fakeService(t, r)

	o, err := c.CreateOrder(context.Background(), rid, order.CreateRequest{
		Type: "dine_in", TableID: "T1", PaymentToken: "tok_visa",
		Items: []order.ItemRequest{{ItemID: "soda", Quantity: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if o.OrderNumber != "KWR-001" {
		t.Errorf("order: %+v", o)
	}
}

func TestTransportFailureIsNotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := New(srv.URL, "")

	_, err := c.FetchOrders(context.Background(), Query{RestaurantID: rid})
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

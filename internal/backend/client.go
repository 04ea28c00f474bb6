// Package backend is the client for the authoritative order service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/orderflow/internal/order"
)

const defaultTimeout = 15 * time.Second

var (
	ErrNotFound = errors.New("order not found")
	ErrConflict = errors.New("order changed concurrently")
)

// Query selects the orders a dashboard works on.
type Query struct {
	Role         string
	RestaurantID uuid.UUID
	UserID       string
}

// OrderService is the REST contract of the order service.
type OrderService interface {
	FetchOrders(ctx context.Context, q Query) ([]order.Order, error)
	FetchOrder(ctx context.Context, id uuid.UUID) (order.Order, error)
	UpdateStatus(ctx context.Context, role string, id uuid.UUID, status string) (order.Order, error)
	CreateOrder(ctx context.Context, restaurantID uuid.UUID, req order.CreateRequest) (order.Order, error)
}

// APIError is a non-2xx response. Message is the service's text and is meant
// for display only.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order service: %s", http.StatusText(e.Status))
	}
	return e.Message
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	}
	return false
}

// Client talks to the order service over HTTP with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL (e.g. http://localhost:8081).
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse struct {
	Orders []order.Order `json:"orders"`
}

// FetchOrders handles GET /restaurants/{rid}/orders?role=&user_id=.
func (c *Client) FetchOrders(ctx context.Context, q Query) ([]order.Order, error) {
	params := url.Values{}
	if q.Role != "" {
		params.Set("role", q.Role)
	}
	if q.UserID != "" {
		params.Set("user_id", q.UserID)
	}
	path := "/restaurants/" + q.RestaurantID.String() + "/orders"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]order.Order, len(resp.Orders))
	for i, o := range resp.Orders {
		out[i] = order.Normalize(o)
	}
	return out, nil
}

// FetchOrder handles GET /orders/{id}.
func (c *Client) FetchOrder(ctx context.Context, id uuid.UUID) (order.Order, error) {
	var o order.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+id.String(), nil, &o); err != nil {
		return order.Order{}, err
	}
	return order.Normalize(o), nil
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Role   string `json:"role"`
}

// UpdateStatus handles PATCH /orders/{id}/status.
func (c *Client) UpdateStatus(ctx context.Context, role string, id uuid.UUID, status string) (order.Order, error) {
	var o order.Order
	body := updateStatusRequest{Status: status, Role: role}
	if err := c.do(ctx, http.MethodPatch, "/orders/"+id.String()+"/status", body, &o); err != nil {
		return order.Order{}, err
	}
	return order.Normalize(o), nil
}

// CreateOrder handles POST /restaurants/{rid}/orders.
func (c *Client) CreateOrder(ctx context.Context, restaurantID uuid.UUID, req order.CreateRequest) (order.Order, error) {
	req.RestaurantID = restaurantID
	var o order.Order
	if err := c.do(ctx, http.MethodPost, "/restaurants/"+restaurantID.String()+"/orders", req, &o); err != nil {
		return order.Order{}, err
	}
	return order.Normalize(o), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Message = payload.Error
		apiErr.Code = payload.Code
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

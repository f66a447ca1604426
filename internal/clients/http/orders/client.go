// Package orders is the HTTP client for the order data service. It implements the
// auto-advance engine's ports.OrderGateway.
package orders

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

	"github.com/oapi-codegen/runtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Apurer/order-autoadvance/internal/domains/orders/adapters/http/mapper"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/domain"
	"github.com/Apurer/order-autoadvance/internal/domains/orders/ports"
	apierrors "github.com/Apurer/order-autoadvance/internal/shared/errors"
)

var _ ports.OrderGateway = (*Client)(nil)

const idempotencyKeyHeader = "Idempotency-Key"

// StatusError is an unexpected response from the order service. Callers treat it as
// transient.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order service returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the order service's REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBearerToken authenticates every request.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// NewClient instantiates the client with sane defaults.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("order service base URL is required")
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse order service base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("order service base URL %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL: parsed,
		httpClient: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// FetchActiveOrders returns every non-terminal order.
func (c *Client) FetchActiveOrders(ctx context.Context) ([]domain.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/orders/active", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call order service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, 0)
	}
	var list mapper.OrderList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode active orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(list.Orders))
	for _, item := range list.Orders {
		order, err := mapper.ToDomainOrder(item)
		if err != nil {
			return nil, fmt.Errorf("order %d: %w", item.ID, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// UpdateOrderStatus issues a conditional status change. The transition id is sent as
// the Idempotency-Key so retries of the same transition are applied once.
func (c *Client) UpdateOrderStatus(ctx context.Context, update ports.StatusUpdate) (*domain.Order, error) {
	orderID, err := runtime.StyleParamWithLocation("simple", false, "orderId", runtime.ParamLocationPath, update.OrderID)
	if err != nil {
		return nil, fmt.Errorf("encode order id: %w", err)
	}
	body, err := json.Marshal(mapper.StatusUpdateRequest{
		Status:          string(update.Target),
		ExpectedVersion: update.ExpectedVersion,
		Source:          string(update.Source),
	})
	if err != nil {
		return nil, fmt.Errorf("encode status update: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/v1/orders/"+orderID+"/status", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(update.TransitionID); key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call order service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp, update.ExpectedVersion)
	}
	var payload mapper.Order
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	order, err := mapper.ToDomainOrder(payload)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/problem+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// responseError maps problem responses onto the domain failure taxonomy.
func responseError(resp *http.Response, expectedVersion int64) error {
	problem := apierrors.ReadProblem(resp.Body, resp.StatusCode, resp.Status)
	msg := problem.Message()

	switch resp.StatusCode {
	case http.StatusConflict:
		conflict := &domain.ConflictError{ExpectedVersion: expectedVersion}
		var payload mapper.Order
		if found, err := problem.Extension("current", &payload); found && err == nil {
			if current, err := mapper.ToDomainOrder(payload); err == nil {
				conflict.Current = &current
			}
		}
		return conflict
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidTransition, msg)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidStatus, msg)
	default:
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}

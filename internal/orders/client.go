package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/circuitbreaker"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	ordersPath      = "/api/orders"
	maxResponseBody = 1 << 20 // 1MB
)

var (
	ErrRejected    = errors.New("order rejected")
	ErrUnavailable = errors.New("orders service unavailable")
)

// RejectedError is a non-2xx answer with a readable body.
type RejectedError struct {
	StatusCode int
	Detail     string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("order rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("order rejected with status %d: %s", e.StatusCode, e.Detail)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	breaker    *gobreaker.CircuitBreaker[*domain.OrderConfirmation]
	settings   circuitbreaker.Settings
	log        *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds a single submission. There is never a second attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithBreakerSettings(s circuitbreaker.Settings) Option {
	return func(c *Client) { c.settings = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:  10 * time.Second,
		settings: circuitbreaker.DefaultSettings("orders-api"),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// A rejection means the API answered; only transport failures trip the breaker.
	c.settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrRejected)
	}
	c.breaker = circuitbreaker.New[*domain.OrderConfirmation](c.settings, c.log)
	return c
}

// CreateOrder posts the order once.
func (c *Client) CreateOrder(ctx context.Context, order domain.OrderRequest) (*domain.OrderConfirmation, error) {
	log := logger.FromContext(ctx, c.log)

	conf, err := c.breaker.Execute(func() (*domain.OrderConfirmation, error) {
		return c.post(ctx, order)
	})
	if err != nil {
		if circuitbreaker.IsOpen(err) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		log.Warn("order submission failed",
			zap.Int("items", len(order.Items)),
			zap.Float64("total", order.Total),
			zap.Error(err))
		return nil, err
	}

	log.Info("order submitted",
		zap.Int64("order_id", conf.OrderID),
		zap.Int("items", len(order.Items)))
	return conf, nil
}

func (c *Client) post(ctx context.Context, order domain.OrderRequest) (*domain.OrderConfirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal order failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ordersPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build order request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var conf domain.OrderConfirmation
		if err := json.Unmarshal(data, &conf); err != nil {
			return nil, fmt.Errorf("%w: unreadable confirmation (status %d): %w", ErrUnavailable, resp.StatusCode, err)
		}
		return &conf, nil
	}

	var failure map[string]json.RawMessage
	if err := json.Unmarshal(data, &failure); err != nil {
		return nil, fmt.Errorf("%w: unreadable error response (status %d): %w", ErrUnavailable, resp.StatusCode, err)
	}
	return nil, &RejectedError{
		StatusCode: resp.StatusCode,
		Detail:     detailText(failure["detail"]),
	}
}

// detailText prefers a plain string; structured details are kept as JSON text.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

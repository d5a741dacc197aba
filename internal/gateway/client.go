// Package gateway is the client for the online payment processor: checkout
// link issuance, order verification and webhook signature checks.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/hackgods/dna-testing-scheduling/internal/config"
	"github.com/hackgods/dna-testing-scheduling/internal/metrics"
)

const (
	StatusPaid      = "PAID"
	StatusPending   = "PENDING"
	StatusCancelled = "CANCELLED"
	StatusExpired   = "EXPIRED"

	codeSuccess = "00"
)

type CheckoutRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
}

type Checkout struct {
	CheckoutURL   string
	PaymentLinkID string
}

type Verification struct {
	OrderCode     int64
	Amount        int64
	AmountPaid    int64
	Status        string
	TransactionID string
}

type Client struct {
	baseURL     string
	clientID    string
	apiKey      string
	checksumKey string
	returnURL   string
	cancelURL   string
	maxRetries  uint64
	http        *http.Client
	metrics     *metrics.Metrics
	logger      zerolog.Logger
}

func NewClient(cfg config.GatewayConfig, m *metrics.Metrics, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		clientID:    cfg.ClientID,
		apiKey:      cfg.APIKey,
		checksumKey: cfg.ChecksumKey,
		returnURL:   cfg.ReturnURL,
		cancelURL:   cfg.CancelURL,
		maxRetries:  cfg.MaxRetries,
		http:        &http.Client{Timeout: timeout},
		metrics:     m,
		logger:      logger.With().Str("component", "gateway").Logger(),
	}
}

type envelope struct {
	Code string          `json:"code"`
	Desc string          `json:"desc"`
	Data json.RawMessage `json:"data"`
}

// APIError is a non-success answer from the gateway.
type APIError struct {
	StatusCode int
	Code       string
	Desc       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: %s (code=%s, status=%d)", e.Desc, e.Code, e.StatusCode)
}

// CreateCheckout issues a payment link. It is not retried: a second link for
// the same order code would be rejected by the gateway anyway.
func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	description := req.Description
	if len(description) > 25 {
		description = description[:25]
	}
	fields := map[string]string{
		"amount":      strconv.FormatInt(req.Amount, 10),
		"cancelUrl":   c.cancelURL,
		"description": description,
		"orderCode":   strconv.FormatInt(req.OrderCode, 10),
		"returnUrl":   c.returnURL,
	}
	body, err := json.Marshal(map[string]any{
		"orderCode":   req.OrderCode,
		"amount":      req.Amount,
		"description": description,
		"cancelUrl":   c.cancelURL,
		"returnUrl":   c.returnURL,
		"signature":   Sign(c.checksumKey, fields),
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("gateway: encode checkout: %w", err)
	}

	data, err := c.invoke(ctx, http.MethodPost, "/v2/payment-requests", body)
	if err != nil {
		return Checkout{}, err
	}
	var out struct {
		CheckoutURL   string `json:"checkoutUrl"`
		PaymentLinkID string `json:"paymentLinkId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkout{}, fmt.Errorf("gateway: decode checkout: %w", err)
	}
	return Checkout{CheckoutURL: out.CheckoutURL, PaymentLinkID: out.PaymentLinkID}, nil
}

// Verify fetches the order's status. Transport errors and 5xx/429 answers are
// retried with exponential backoff up to the configured attempt count; the
// overall call is bounded by ctx and the client timeout.
func (c *Client) Verify(ctx context.Context, orderCode int64) (Verification, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveVerifyLatency(time.Since(start).Seconds()) }()

	var data []byte
	op := func() error {
		var err error
		data, err = c.invoke(ctx, http.MethodGet, "/v2/payment-requests/"+strconv.FormatInt(orderCode, 10), nil)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Int64("order_code", orderCode).Dur("retry_in", wait).Msg("gateway verify retry")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return Verification{}, err
	}

	var out struct {
		OrderCode    int64  `json:"orderCode"`
		Amount       int64  `json:"amount"`
		AmountPaid   int64  `json:"amountPaid"`
		Status       string `json:"status"`
		Transactions []struct {
			Reference string `json:"reference"`
		} `json:"transactions"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Verification{}, fmt.Errorf("gateway: decode verification: %w", err)
	}
	v := Verification{OrderCode: out.OrderCode, Amount: out.Amount, AmountPaid: out.AmountPaid, Status: out.Status}
	if len(out.Transactions) > 0 {
		v.TransactionID = out.Transactions[len(out.Transactions)-1].Reference
	}
	return v, nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return b
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("x-client-id", c.clientID)
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Desc: strings.TrimSpace(string(raw))}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("gateway: decode response: %w", err)
	}
	if env.Code != codeSuccess {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Code, Desc: env.Desc}
	}
	return env.Data, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

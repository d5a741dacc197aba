package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/dna-testing-scheduling/internal/config"
)

func newTestClient(url string, retries uint64) *Client {
	return NewClient(config.GatewayConfig{
		BaseURL:     url,
		ClientID:    "client",
		APIKey:      "key",
		ChecksumKey: "checksum",
		ReturnURL:   "http://localhost/ok",
		CancelURL:   "http://localhost/cancel",
		Timeout:     time.Second,
		MaxRetries:  retries,
	}, nil, zerolog.Nop())
}

func TestCreateCheckoutSignsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests", r.URL.Path)
		assert.Equal(t, "client", r.Header.Get("x-client-id"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		want := Sign("checksum", map[string]string{
			"amount":      "150000",
			"cancelUrl":   "http://localhost/cancel",
			"description": "Deposit 100001",
			"orderCode":   "100001",
			"returnUrl":   "http://localhost/ok",
		})
		assert.Equal(t, want, body["signature"])

		_, _ = w.Write([]byte(`{"code":"00","desc":"success","data":{"checkoutUrl":"https://pay.example/c/1","paymentLinkId":"pl-1"}}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 0).CreateCheckout(context.Background(), CheckoutRequest{OrderCode: 100001, Amount: 150000, Description: "Deposit 100001"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/c/1", out.CheckoutURL)
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"code":"00","data":{"orderCode":7,"amount":350000,"amountPaid":350000,"status":"PAID","transactions":[{"reference":"FT123"}]}}`))
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL, 3).Verify(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, StatusPaid, v.Status)
	assert.Equal(t, int64(350000), v.Amount)
	assert.Equal(t, "FT123", v.TransactionID)
}

func TestVerifyGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).Verify(context.Background(), 7)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVerifyDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Verify(context.Background(), 7)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

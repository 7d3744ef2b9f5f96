package aggregator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		AffiliateID: "swapsmith",
		Timeout:     2 * time.Second,
	}, &mockLogger{})
	t.Cleanup(c.Close)
	return c
}

func TestGetQuoteParsesValidResponse(t *testing.T) {
	var gotKey string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		assert.Equal(t, "/quotes", r.URL.Path)
		w.Write([]byte(`{
			"id": "q-123",
			"depositAmount": "0.50000000",
			"settleAmount": "1234.56780000",
			"rate": "2469.1356",
			"expiresAt": "2026-01-02T15:04:05Z"
		}`))
	}))

	quote, err := client.GetQuote(context.Background(), "ETH", "ethereum", "USDC", "polygon", decimal.RequireFromString("0.5"))
	require.NoError(t, err)

	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "q-123", quote.ID)
	assert.True(t, quote.SettleAmount.Equal(decimal.RequireFromString("1234.5678")))
	assert.True(t, quote.Rate.Equal(decimal.RequireFromString("2469.1356")))
	assert.Equal(t, 2026, quote.ExpiresAt.Year())
}

func TestGetQuoteRejectsMalformedResponse(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "", "settleAmount": "not-a-number", "rate": "0", "expiresAt": "yesterday"}`))
	}))

	_, err := client.GetQuote(context.Background(), "ETH", "ethereum", "USDC", "polygon", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settleAmount")
	assert.Contains(t, err.Error(), "expiresAt")
	assert.Contains(t, err.Error(), "id")
}

func TestGetQuoteRejectsNonPositiveAmount(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request should be issued")
	}))

	_, err := client.GetQuote(context.Background(), "ETH", "ethereum", "USDC", "polygon", decimal.Zero)
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "amount")
}

func TestRateLimitSurfacesRetryAfter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"RATE_LIMIT","message":"slow down"}}`))
	}))

	_, err := client.GetOrderStatus(context.Background(), "o-1")
	var ue *apperrors.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 429, ue.HTTPStatus)
	assert.Equal(t, "RATE_LIMIT", ue.Code)
	assert.Equal(t, 30*time.Second, ue.RetryAfter)
	assert.True(t, ue.Transient())
}

func TestOrderNotFoundMapsToSentinel(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"no such order"}}`))
	}))

	_, err := client.GetOrderStatus(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrOrderNotFound))
}

func TestKnownErrorCodesMapToSentinels(t *testing.T) {
	cases := []struct {
		code     string
		sentinel error
	}{
		{"QUOTE_EXPIRED", apperrors.ErrQuoteExpired},
		{"INSUFFICIENT_FUNDS", apperrors.ErrInsufficientFunds},
		{"INVALID_ADDRESS", apperrors.ErrInvalidAddress},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"code":"` + tc.code + `","message":"rejected"}}`))
			}))

			_, err := client.CreateOrder(context.Background(), "q-1", "0xsettle", "0xrefund")
			assert.True(t, errors.Is(err, tc.sentinel), "code %s should match its sentinel", tc.code)

			// The structured error still rides along for classification.
			var ue *apperrors.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tc.code, ue.Code)
			assert.False(t, ue.Transient())
		})
	}
}

func TestGetOrderStatusRejectsUnknownStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"o-1","status":"levitating","updatedAt":"2026-01-02T15:04:05Z"}`))
	}))

	_, err := client.GetOrderStatus(context.Background(), "o-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "levitating")
}

func TestGetOrderStatusParsesTerminal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/o-9", r.URL.Path)
		w.Write([]byte(`{"id":"o-9","status":"settled","settleHash":"0xabc","updatedAt":"2026-01-02T15:04:05Z"}`))
	}))

	snap, err := client.GetOrderStatus(context.Background(), "o-9")
	require.NoError(t, err)
	assert.Equal(t, core.StatusSettled, snap.Status)
	assert.True(t, snap.Status.IsTerminal())
	assert.Equal(t, "0xabc", snap.SettleHash)
}

func TestGetPrice(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETH", r.URL.Query().Get("coin"))
		w.Write([]byte(`{"usdPrice":"1999.42"}`))
	}))

	price, err := client.GetPrice(context.Background(), "ETH", "ethereum")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("1999.42")))
}

func TestCreateCheckout(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout", r.URL.Path)
		w.Write([]byte(`{"id":"c-1","url":"https://pay.example.com/c-1"}`))
	}))

	checkout, err := client.CreateCheckout(context.Background(), "USDC", "polygon", "0xdead", decimal.NewFromInt(25))
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/c-1", checkout.URL)
}

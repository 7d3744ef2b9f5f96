// Package aggregator implements the validated HTTP wrapper around the
// external cross-chain exchange aggregator.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"
	pkghttp "swapsmith/pkg/http"

	"github.com/shopspring/decimal"
)

// Config holds client settings.
type Config struct {
	BaseURL     string
	APIKey      string
	AffiliateID string
	Timeout     time.Duration
	MaxRPS      int
}

// Client talks to the aggregator REST API. Every response is validated
// before being returned; errors carry HTTP status, aggregator code and
// Retry-After so callers can tell transient from permanent.
type Client struct {
	http        *pkghttp.Client
	affiliateID string
	logger      core.ILogger
}

// NewClient creates an aggregator client. Call Close on shutdown.
func NewClient(cfg Config, logger core.ILogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	signer := &pkghttp.HeaderSigner{Header: "x-api-key", Value: cfg.APIKey}

	return &Client{
		http:        pkghttp.NewClient(cfg.BaseURL, timeout, cfg.MaxRPS, signer),
		affiliateID: cfg.AffiliateID,
		logger:      logger.WithField("component", "aggregator_client"),
	}
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// GetQuote requests a short-TTL price commitment for a pair and amount.
func (c *Client) GetQuote(ctx context.Context, fromAsset, fromNetwork, toAsset, toNetwork string, amount decimal.Decimal) (*core.Quote, error) {
	if amount.Sign() <= 0 {
		return nil, &apperrors.ValidationError{Fields: []string{"amount"}, Message: "must be positive"}
	}

	body, err := c.http.Post(ctx, "/quotes", map[string]interface{}{
		"depositCoin":    fromAsset,
		"depositNetwork": fromNetwork,
		"settleCoin":     toAsset,
		"settleNetwork":  toNetwork,
		"depositAmount":  amount.String(),
		"affiliateId":    c.affiliateID,
	})
	if err != nil {
		return nil, c.wrapError("GetQuote", err)
	}

	var raw struct {
		ID            string `json:"id"`
		DepositAmount string `json:"depositAmount"`
		SettleAmount  string `json:"settleAmount"`
		Rate          string `json:"rate"`
		ExpiresAt     string `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("quote response unmarshal: %w", err)
	}

	quote := &core.Quote{
		ID:          raw.ID,
		FromAsset:   fromAsset,
		FromNetwork: fromNetwork,
		ToAsset:     toAsset,
		ToNetwork:   toNetwork,
	}
	v := newValidator("quote")
	quote.DepositAmount = v.decimal("depositAmount", raw.DepositAmount)
	quote.SettleAmount = v.positiveDecimal("settleAmount", raw.SettleAmount)
	quote.Rate = v.positiveDecimal("rate", raw.Rate)
	quote.ExpiresAt = v.timestamp("expiresAt", raw.ExpiresAt)
	v.require("id", raw.ID)
	if err := v.err(); err != nil {
		return nil, err
	}
	return quote, nil
}

// CreateOrder turns a quote into a live order with deposit instructions.
func (c *Client) CreateOrder(ctx context.Context, quoteID, settleAddress, refundAddress string) (*core.CreatedOrder, error) {
	if quoteID == "" || settleAddress == "" {
		return nil, &apperrors.ValidationError{
			Fields:  []string{"quoteId", "settleAddress"},
			Message: "quote ID and settle address are required",
		}
	}

	payload := map[string]interface{}{
		"quoteId":       quoteID,
		"settleAddress": settleAddress,
		"affiliateId":   c.affiliateID,
	}
	if refundAddress != "" {
		payload["refundAddress"] = refundAddress
	}

	body, err := c.http.Post(ctx, "/orders", payload)
	if err != nil {
		return nil, c.wrapError("CreateOrder", err)
	}

	var raw struct {
		ID             string `json:"id"`
		QuoteID        string `json:"quoteId"`
		DepositAddress string `json:"depositAddress"`
		DepositMemo    string `json:"depositMemo"`
		SettleAddress  string `json:"settleAddress"`
		ExpiresAt      string `json:"expiresAt"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("order response unmarshal: %w", err)
	}

	v := newValidator("order")
	v.require("id", raw.ID)
	v.require("depositAddress", raw.DepositAddress)
	expiresAt := v.timestamp("expiresAt", raw.ExpiresAt)
	if err := v.err(); err != nil {
		return nil, err
	}

	return &core.CreatedOrder{
		ID:             raw.ID,
		QuoteID:        raw.QuoteID,
		DepositAddress: raw.DepositAddress,
		DepositMemo:    raw.DepositMemo,
		SettleAddress:  raw.SettleAddress,
		ExpiresAt:      expiresAt,
	}, nil
}

// GetOrderStatus reads the current status report for one order.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*core.OrderSnapshot, error) {
	if orderID == "" {
		return nil, &apperrors.ValidationError{Fields: []string{"orderId"}, Message: "order ID is required"}
	}

	body, err := c.http.Get(ctx, "/orders/"+orderID, nil)
	if err != nil {
		return nil, c.wrapError("GetOrderStatus", err)
	}

	var raw struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		DepositHash string `json:"depositHash"`
		SettleHash  string `json:"settleHash"`
		UpdatedAt   string `json:"updatedAt"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("status response unmarshal: %w", err)
	}

	status := core.Status(raw.Status)
	v := newValidator("status")
	v.require("id", raw.ID)
	if !status.IsValid() {
		v.fail("status", fmt.Sprintf("unknown status %q", raw.Status))
	}
	updatedAt := v.timestamp("updatedAt", raw.UpdatedAt)
	if err := v.err(); err != nil {
		return nil, err
	}

	return &core.OrderSnapshot{
		ID:          raw.ID,
		Status:      status,
		DepositHash: raw.DepositHash,
		SettleHash:  raw.SettleHash,
		UpdatedAt:   updatedAt,
	}, nil
}

// GetPrice fetches a live USD price for one asset on one network. Used by
// the price refresher and by the limit worker's staleness fallback.
func (c *Client) GetPrice(ctx context.Context, asset, network string) (decimal.Decimal, error) {
	body, err := c.http.Get(ctx, "/coins/price", map[string]string{
		"coin":    asset,
		"network": network,
	})
	if err != nil {
		return decimal.Zero, c.wrapError("GetPrice", err)
	}

	var raw struct {
		Price string `json:"usdPrice"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return decimal.Zero, fmt.Errorf("price response unmarshal: %w", err)
	}

	price, err := decimal.NewFromString(raw.Price)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price response invalid: usdPrice=%q", raw.Price)
	}
	return price, nil
}

// CreateCheckout creates a hosted pay-link. Front-end only.
func (c *Client) CreateCheckout(ctx context.Context, toAsset, toNetwork, settleAddress string, amount decimal.Decimal) (*core.Checkout, error) {
	if settleAddress == "" || amount.Sign() <= 0 {
		return nil, &apperrors.ValidationError{
			Fields:  []string{"settleAddress", "amount"},
			Message: "settle address and positive amount are required",
		}
	}

	body, err := c.http.Post(ctx, "/checkout", map[string]interface{}{
		"settleCoin":    toAsset,
		"settleNetwork": toNetwork,
		"settleAddress": settleAddress,
		"settleAmount":  amount.String(),
		"affiliateId":   c.affiliateID,
	})
	if err != nil {
		return nil, c.wrapError("CreateCheckout", err)
	}

	var raw struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("checkout response unmarshal: %w", err)
	}

	v := newValidator("checkout")
	v.require("id", raw.ID)
	v.require("url", raw.URL)
	if err := v.err(); err != nil {
		return nil, err
	}
	return &core.Checkout{ID: raw.ID, URL: raw.URL}, nil
}

// wrapError converts transport-level failures into the shared taxonomy.
func (c *Client) wrapError(op string, err error) error {
	var apiErr *pkghttp.APIError
	if errors.As(err, &apiErr) {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(apiErr.Body, &errBody)

		ue := &apperrors.UpstreamError{
			HTTPStatus: apiErr.StatusCode,
			Code:       errBody.Error.Code,
			Message:    errBody.Error.Message,
			RetryAfter: apiErr.RetryAfter,
		}
		if apiErr.StatusCode == 404 {
			return fmt.Errorf("%s: %w", op, apperrors.ErrOrderNotFound)
		}
		if sentinel := sentinelFor(errBody.Error.Code); sentinel != nil {
			return fmt.Errorf("%s: %w: %w", op, sentinel, ue)
		}
		return fmt.Errorf("%s: %w", op, ue)
	}
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrNetwork, err)
}

// sentinelFor maps well-known aggregator error codes onto taxonomy
// sentinels so callers can match with errors.Is.
func sentinelFor(code string) error {
	switch code {
	case "QUOTE_EXPIRED":
		return apperrors.ErrQuoteExpired
	case "INSUFFICIENT_FUNDS":
		return apperrors.ErrInsufficientFunds
	case "INVALID_ADDRESS":
		return apperrors.ErrInvalidAddress
	default:
		return nil
	}
}

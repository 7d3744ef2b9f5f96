package intent

import (
	"testing"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSwapIntent(t *testing.T) {
	payload := `{
		"intent": "swap",
		"userId": "u1",
		"fromAsset": "ETH", "fromNetwork": "ethereum",
		"toAsset": "USDC", "toNetwork": "polygon",
		"amount": "0.5"
	}`
	i, err := Parse([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, KindSwap, i.Kind)
	require.NotNil(t, i.Swap)
	assert.True(t, i.Swap.Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, "u1", i.UserID())
}

func TestParseLimitOrderIntent(t *testing.T) {
	payload := `{
		"intent": "limit_order",
		"userId": "u1",
		"fromAsset": "USDC", "fromNetwork": "polygon",
		"toAsset": "ETH", "toNetwork": "ethereum",
		"amount": "500", "targetPrice": "2000",
		"condition": "below",
		"refAsset": "ETH", "refChain": "ethereum"
	}`
	i, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, i.LimitOrder)
	assert.Equal(t, core.ConditionBelow, i.LimitOrder.Condition)
}

func TestParseRejectsUnknownKind(t *testing.T) {
	_, err := Parse([]byte(`{"intent": "teleport"}`))
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "intent")
}

func TestParseReportsAllMissingFields(t *testing.T) {
	_, err := Parse([]byte(`{"intent": "dca", "userId": "u1", "amount": "100"}`))
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ElementsMatch(t, []string{"fromAsset", "fromNetwork", "toAsset", "toNetwork", "intervalHours"}, ve.Fields)
}

func TestParseRejectsNonPositiveAmount(t *testing.T) {
	payload := `{
		"intent": "swap",
		"userId": "u1",
		"fromAsset": "ETH", "fromNetwork": "ethereum",
		"toAsset": "USDC", "toNetwork": "polygon",
		"amount": "0"
	}`
	_, err := Parse([]byte(payload))
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "amount")
}

func TestParseRejectsBadCondition(t *testing.T) {
	payload := `{
		"intent": "limit_order",
		"userId": "u1",
		"fromAsset": "USDC", "fromNetwork": "polygon",
		"toAsset": "ETH", "toNetwork": "ethereum",
		"amount": "500", "targetPrice": "2000",
		"condition": "sideways",
		"refAsset": "ETH", "refChain": "ethereum"
	}`
	_, err := Parse([]byte(payload))
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "condition")
}

func TestParsePortfolioIntent(t *testing.T) {
	i, err := Parse([]byte(`{"intent": "portfolio", "userId": "u1"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPortfolio, i.Kind)
}

func TestParseCheckoutIntent(t *testing.T) {
	payload := `{
		"intent": "checkout",
		"userId": "u1",
		"toAsset": "USDC", "toNetwork": "polygon",
		"settleAddress": "0xdead", "amount": "25"
	}`
	i, err := Parse([]byte(payload))
	require.NoError(t, err)
	require.NotNil(t, i.Checkout)
	assert.Equal(t, "0xdead", i.Checkout.SettleAddress)
}

// Package intent defines the structured intents produced by the
// natural-language front-end. Each intent kind is its own variant with
// its own required fields; handlers switch on the tag.
package intent

import (
	"encoding/json"
	"fmt"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
)

// Kind tags an intent variant.
type Kind string

const (
	KindSwap       Kind = "swap"
	KindDCA        Kind = "dca"
	KindPortfolio  Kind = "portfolio"
	KindCheckout   Kind = "checkout"
	KindYieldScout Kind = "yield_scout"
	KindLimitOrder Kind = "limit_order"
)

// Intent is a tagged union: exactly one variant pointer is non-nil and it
// matches Kind.
type Intent struct {
	Kind       Kind
	Swap       *SwapIntent
	DCA        *DCAIntent
	Portfolio  *PortfolioIntent
	Checkout   *CheckoutIntent
	YieldScout *YieldScoutIntent
	LimitOrder *LimitOrderIntent
}

// SwapIntent is a one-shot swap request.
type SwapIntent struct {
	UserID      string          `json:"userId"`
	FromAsset   string          `json:"fromAsset"`
	FromNetwork string          `json:"fromNetwork"`
	ToAsset     string          `json:"toAsset"`
	ToNetwork   string          `json:"toNetwork"`
	Amount      decimal.Decimal `json:"amount"`
}

// DCAIntent creates a recurring plan.
type DCAIntent struct {
	UserID        string          `json:"userId"`
	FromAsset     string          `json:"fromAsset"`
	FromNetwork   string          `json:"fromNetwork"`
	ToAsset       string          `json:"toAsset"`
	ToNetwork     string          `json:"toNetwork"`
	Amount        decimal.Decimal `json:"amount"`
	IntervalHours int             `json:"intervalHours"`
}

// PortfolioIntent asks for the user's holdings summary.
type PortfolioIntent struct {
	UserID string `json:"userId"`
}

// CheckoutIntent creates a hosted pay link.
type CheckoutIntent struct {
	UserID        string          `json:"userId"`
	ToAsset       string          `json:"toAsset"`
	ToNetwork     string          `json:"toNetwork"`
	SettleAddress string          `json:"settleAddress"`
	Amount        decimal.Decimal `json:"amount"`
}

// YieldScoutIntent asks for yield opportunities on an asset.
type YieldScoutIntent struct {
	UserID string `json:"userId"`
	Asset  string `json:"asset"`
}

// LimitOrderIntent arms a price-conditioned order.
type LimitOrderIntent struct {
	UserID      string              `json:"userId"`
	FromAsset   string              `json:"fromAsset"`
	FromNetwork string              `json:"fromNetwork"`
	ToAsset     string              `json:"toAsset"`
	ToNetwork   string              `json:"toNetwork"`
	Amount      decimal.Decimal     `json:"amount"`
	TargetPrice decimal.Decimal     `json:"targetPrice"`
	Condition   core.LimitCondition `json:"condition"`
	RefAsset    string              `json:"refAsset"`
	RefChain    string              `json:"refChain"`
}

type envelope struct {
	Intent Kind `json:"intent"`
}

// Parse decodes and validates one intent payload.
func Parse(data []byte) (*Intent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &apperrors.ValidationError{Fields: []string{"intent"}, Message: "payload is not valid JSON"}
	}

	out := &Intent{Kind: env.Intent}
	var variant interface{}
	switch env.Intent {
	case KindSwap:
		out.Swap = &SwapIntent{}
		variant = out.Swap
	case KindDCA:
		out.DCA = &DCAIntent{}
		variant = out.DCA
	case KindPortfolio:
		out.Portfolio = &PortfolioIntent{}
		variant = out.Portfolio
	case KindCheckout:
		out.Checkout = &CheckoutIntent{}
		variant = out.Checkout
	case KindYieldScout:
		out.YieldScout = &YieldScoutIntent{}
		variant = out.YieldScout
	case KindLimitOrder:
		out.LimitOrder = &LimitOrderIntent{}
		variant = out.LimitOrder
	default:
		return nil, &apperrors.ValidationError{
			Fields:  []string{"intent"},
			Message: fmt.Sprintf("unknown intent kind %q", env.Intent),
		}
	}

	if err := json.Unmarshal(data, variant); err != nil {
		return nil, &apperrors.ValidationError{Fields: []string{"intent"}, Message: err.Error()}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the variant's required-field set.
func (i *Intent) Validate() error {
	var missing []string
	req := func(field, value string) {
		if value == "" {
			missing = append(missing, field)
		}
	}
	pos := func(field string, value decimal.Decimal) {
		if value.Sign() <= 0 {
			missing = append(missing, field)
		}
	}

	switch i.Kind {
	case KindSwap:
		s := i.Swap
		req("userId", s.UserID)
		req("fromAsset", s.FromAsset)
		req("fromNetwork", s.FromNetwork)
		req("toAsset", s.ToAsset)
		req("toNetwork", s.ToNetwork)
		pos("amount", s.Amount)
	case KindDCA:
		d := i.DCA
		req("userId", d.UserID)
		req("fromAsset", d.FromAsset)
		req("fromNetwork", d.FromNetwork)
		req("toAsset", d.ToAsset)
		req("toNetwork", d.ToNetwork)
		pos("amount", d.Amount)
		if d.IntervalHours <= 0 {
			missing = append(missing, "intervalHours")
		}
	case KindPortfolio:
		req("userId", i.Portfolio.UserID)
	case KindCheckout:
		c := i.Checkout
		req("userId", c.UserID)
		req("toAsset", c.ToAsset)
		req("toNetwork", c.ToNetwork)
		req("settleAddress", c.SettleAddress)
		pos("amount", c.Amount)
	case KindYieldScout:
		y := i.YieldScout
		req("userId", y.UserID)
		req("asset", y.Asset)
	case KindLimitOrder:
		l := i.LimitOrder
		req("userId", l.UserID)
		req("fromAsset", l.FromAsset)
		req("fromNetwork", l.FromNetwork)
		req("toAsset", l.ToAsset)
		req("toNetwork", l.ToNetwork)
		req("refAsset", l.RefAsset)
		req("refChain", l.RefChain)
		pos("amount", l.Amount)
		pos("targetPrice", l.TargetPrice)
		if l.Condition != core.ConditionAbove && l.Condition != core.ConditionBelow {
			missing = append(missing, "condition")
		}
	}

	if len(missing) > 0 {
		return &apperrors.ValidationError{
			Fields:  missing,
			Message: fmt.Sprintf("%s intent is missing or has invalid fields", i.Kind),
		}
	}
	return nil
}

// UserID returns the owning user of any variant.
func (i *Intent) UserID() string {
	switch i.Kind {
	case KindSwap:
		return i.Swap.UserID
	case KindDCA:
		return i.DCA.UserID
	case KindPortfolio:
		return i.Portfolio.UserID
	case KindCheckout:
		return i.Checkout.UserID
	case KindYieldScout:
		return i.YieldScout.UserID
	case KindLimitOrder:
		return i.LimitOrder.UserID
	}
	return ""
}

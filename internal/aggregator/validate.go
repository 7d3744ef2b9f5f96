package aggregator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// validator accumulates per-field checks for one aggregator response so a
// malformed payload reports every broken field at once.
type validator struct {
	scope    string
	problems []string
}

func newValidator(scope string) *validator {
	return &validator{scope: scope}
}

func (v *validator) fail(field, reason string) {
	v.problems = append(v.problems, fmt.Sprintf("%s: %s", field, reason))
}

func (v *validator) require(field, value string) {
	if value == "" {
		v.fail(field, "missing")
	}
}

func (v *validator) decimal(field, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		v.fail(field, fmt.Sprintf("not a decimal: %q", value))
		return decimal.Zero
	}
	return d
}

func (v *validator) positiveDecimal(field, value string) decimal.Decimal {
	d := v.decimal(field, value)
	if d.Sign() <= 0 && value != "" {
		v.fail(field, fmt.Sprintf("must be positive: %q", value))
	}
	return d
}

func (v *validator) timestamp(field, value string) time.Time {
	if value == "" {
		v.fail(field, "missing")
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		v.fail(field, fmt.Sprintf("not an RFC3339 timestamp: %q", value))
		return time.Time{}
	}
	return t
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid %s response: %s", v.scope, strings.Join(v.problems, "; "))
}

// Package apperrors defines the error taxonomy shared across components.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Standardized sentinel errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrQuoteExpired      = errors.New("quote expired")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrAlreadyClaimed    = errors.New("row already claimed")
	ErrStalePrice        = errors.New("stale price data")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
)

// Kind classifies an error for recovery policy decisions.
type Kind int

const (
	KindValidation Kind = iota
	KindAuth
	KindTransientUpstream
	KindPermanentUpstream
	KindPersistence
	KindStalePrice
)

// String returns the string representation of a kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindTransientUpstream:
		return "transient_upstream"
	case KindPermanentUpstream:
		return "permanent_upstream"
	case KindPersistence:
		return "persistence"
	case KindStalePrice:
		return "stale_price"
	default:
		return "unknown"
	}
}

// ValidationError reports malformed input with an explicit field list.
// It is surfaced to the caller and never retried.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %v: %s", e.Fields, e.Message)
}

// UpstreamError is an error surfaced by the aggregator, carrying enough
// structure for callers to distinguish transient from permanent.
type UpstreamError struct {
	HTTPStatus int
	Code       string
	Message    string
	RetryAfter time.Duration // non-zero only for 429 responses
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("aggregator error: status=%d code=%s message=%s", e.HTTPStatus, e.Code, e.Message)
}

// Transient reports whether the error should be absorbed and retried by
// the owning component.
func (e *UpstreamError) Transient() bool {
	return e.HTTPStatus == 429 || e.HTTPStatus >= 500
}

// PersistenceError wraps a database failure. Tick loops log and retry;
// request handlers surface it as 500.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// permanentReclass maps aggregator-reported permanent codes onto a
// recovery class.
type PermanentClass int

const (
	RetryWithFreshQuote PermanentClass = iota
	UserFixable
	Fatal
)

var permanentReclass = map[string]PermanentClass{
	"QUOTE_EXPIRED":      RetryWithFreshQuote,
	"RATE_CHANGED":       RetryWithFreshQuote,
	"INSUFFICIENT_FUNDS": UserFixable,
	"INVALID_ADDRESS":    UserFixable,
	"MEMO_REQUIRED":      UserFixable,
	"PAIR_UNAVAILABLE":   Fatal,
	"AMOUNT_TOO_LOW":     UserFixable,
	"AMOUNT_TOO_HIGH":    UserFixable,
}

// ClassifyPermanent reclassifies an aggregator-reported permanent error
// code. Unknown codes are fatal.
func ClassifyPermanent(code string) PermanentClass {
	if c, ok := permanentReclass[code]; ok {
		return c
	}
	return Fatal
}

// IsTransient reports whether err should be retried by the caller's
// retry policy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded)
}

// KindOf returns the taxonomy kind for an error.
func KindOf(err error) Kind {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden) {
		return KindAuth
	}
	if errors.Is(err, ErrStalePrice) {
		return KindStalePrice
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}
	if IsTransient(err) {
		return KindTransientUpstream
	}
	return KindPermanentUpstream
}

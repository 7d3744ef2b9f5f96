// Package core defines the domain types and component interfaces for the
// swap orchestration system.
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is an order status as reported by the aggregator. The system never
// invents statuses, it only observes and persists them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusSettled    Status = "settled"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusExpired, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// IsValid reports whether the status is one the aggregator can emit.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusWaiting, StatusProcessing,
		StatusSettled, StatusExpired, StatusRefunded, StatusFailed:
		return true
	}
	return false
}

// Order is a single swap instance created from a quote.
type Order struct {
	ID             int64
	ExternalID     string // aggregator order ID, unique
	UserID         string
	FromAsset      string
	FromNetwork    string
	FromAmount     decimal.Decimal
	ToAsset        string
	ToNetwork      string
	SettleAmount   decimal.Decimal
	DepositAddress string
	DepositMemo    string
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WatchedOrder is the durable registration record that makes monitoring
// crash-safe. One row exists per non-terminal order.
type WatchedOrder struct {
	ExternalID string
	UserID     string
	LastStatus Status
	CreatedAt  time.Time
}

// DCAPlan is a recurring swap intent executed once per interval.
type DCAPlan struct {
	ID              int64
	UserID          string
	FromAsset       string
	FromNetwork     string
	ToAsset         string
	ToNetwork       string
	Amount          decimal.Decimal
	IntervalHours   int
	NextExecutionAt time.Time
	IsActive        bool
	ExecutedCount   int
}

// Interval returns the plan's execution interval as a duration.
func (p *DCAPlan) Interval() time.Duration {
	return time.Duration(p.IntervalHours) * time.Hour
}

// LimitCondition selects which side of the target price arms the trigger.
type LimitCondition string

const (
	ConditionAbove LimitCondition = "above"
	ConditionBelow LimitCondition = "below"
)

// LimitOrderStatus is the lifecycle state of a price-armed intent.
type LimitOrderStatus string

const (
	LimitArmed     LimitOrderStatus = "armed"
	LimitTriggered LimitOrderStatus = "triggered"
	LimitExecuting LimitOrderStatus = "executing"
	LimitSettled   LimitOrderStatus = "settled"
	LimitFailed    LimitOrderStatus = "failed"
	LimitDead      LimitOrderStatus = "dead"
)

// LimitOrder is a user intent armed to execute when a monitored price
// crosses a target.
type LimitOrder struct {
	ID          int64
	UserID      string
	FromAsset   string
	FromNetwork string
	ToAsset     string
	ToNetwork   string
	Amount      decimal.Decimal
	TargetPrice decimal.Decimal
	Condition   LimitCondition
	RefAsset    string // the priced asset the condition watches
	RefChain    string
	Status      LimitOrderStatus
	RetryCount  int
	RetryAfter  *time.Time
	LastError   string
	CreatedAt   time.Time
}

// ShouldTrigger evaluates the arm condition against a price.
func (lo *LimitOrder) ShouldTrigger(price decimal.Decimal) bool {
	switch lo.Condition {
	case ConditionAbove:
		return price.GreaterThan(lo.TargetPrice)
	case ConditionBelow:
		return price.LessThan(lo.TargetPrice)
	}
	return false
}

// PriceSnapshot is a cached external price for one asset on one chain.
type PriceSnapshot struct {
	Asset     string
	Chain     string
	Price     decimal.Decimal
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Age returns how long ago the snapshot was refreshed.
func (ps *PriceSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(ps.UpdatedAt)
}

// StatusLogEntry is one row of the append-only transition audit.
type StatusLogEntry struct {
	ID          int64
	OrderID     string
	OldStatus   Status
	NewStatus   Status
	Fingerprint string
	EmittedAt   time.Time
}

// User is the owning identity for orders and plans.
type User struct {
	ID            string
	SettleAddress string
	RefundAddress string
	CoinBalance   decimal.Decimal
	IsAdmin       bool
	CreatedAt     time.Time
}

// UserSettings holds per-user trading preferences.
type UserSettings struct {
	UserID            string
	SlippageTolerance decimal.Decimal // fraction, e.g. 0.0050
	DefaultNetwork    string
	NotifyOnSettle    bool
}

// Conversation is per-user dialog state mutated read-modify-write under a
// row lock plus an optimistic version counter.
type Conversation struct {
	ID        int64
	UserID    string
	State     string // opaque JSON document owned by the chat layer
	Version   int64
	UpdatedAt time.Time
}

// ChatMessage is one appended message in a conversation.
type ChatMessage struct {
	ID             int64
	ConversationID int64
	UserID         string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// CoinGiftLog is one row of the signed test-credit ledger.
type CoinGiftLog struct {
	ID           int64
	TargetUserID string
	AdminID      string
	Action       string // gift, deduct, reset
	Amount       decimal.Decimal
	Note         string
	CreatedAt    time.Time
}

// AuditEntry is one row of the immutable admin action log.
type AuditEntry struct {
	ID        int64
	AdminID   string
	Action    string
	TargetID  string
	Detail    string
	CreatedAt time.Time
}

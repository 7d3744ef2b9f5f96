package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a short-TTL price commitment from the aggregator.
type Quote struct {
	ID            string
	FromAsset     string
	FromNetwork   string
	ToAsset       string
	ToNetwork     string
	DepositAmount decimal.Decimal
	SettleAmount  decimal.Decimal
	Rate          decimal.Decimal
	ExpiresAt     time.Time
}

// CreatedOrder is the aggregator's view of a freshly created order.
type CreatedOrder struct {
	ID             string
	QuoteID        string
	DepositAddress string
	DepositMemo    string
	SettleAddress  string
	ExpiresAt      time.Time
}

// OrderSnapshot is the aggregator's report for one order at one instant.
type OrderSnapshot struct {
	ID          string
	Status      Status
	DepositHash string
	SettleHash  string
	UpdatedAt   time.Time
}

// Checkout is a hosted pay-link created for front-end flows.
type Checkout struct {
	ID  string
	URL string
}

// IAggregatorClient is the outbound boundary to the exchange aggregator.
// Implementations validate every response before returning it.
type IAggregatorClient interface {
	GetQuote(ctx context.Context, fromAsset, fromNetwork, toAsset, toNetwork string, amount decimal.Decimal) (*Quote, error)
	CreateOrder(ctx context.Context, quoteID, settleAddress, refundAddress string) (*CreatedOrder, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderSnapshot, error)
	GetPrice(ctx context.Context, asset, network string) (decimal.Decimal, error)
	CreateCheckout(ctx context.Context, toAsset, toNetwork, settleAddress string, amount decimal.Decimal) (*Checkout, error)
	Close()
}

// Tracker is the capability producers hold to hand new orders to the
// monitor. Producers never see the concrete monitor.
type Tracker interface {
	Track(ctx context.Context, orderID, userID string, createdAt time.Time) error
}

// Listener receives observed status transitions. Delivery is at-least-once
// across crashes; implementations must be idempotent by (orderID, newStatus).
type Listener func(userID, orderID string, oldStatus, newStatus Status, snapshot *OrderSnapshot)

// IOrderMonitor tracks non-terminal orders and polls the aggregator for
// status changes.
type IOrderMonitor interface {
	Tracker
	Untrack(orderID string)
	LoadPending(ctx context.Context) error
	Reconcile(ctx context.Context) error
	Subscribe(l Listener)
	Start(ctx context.Context) error
	Stop() error
}

// INotifier delivers user-visible notifications for events that exhausted
// local absorption (terminal orders, dead limit orders, failed plans).
type INotifier interface {
	Notify(ctx context.Context, userID, title, message string)
}

// OrderStore persists orders, watched registrations, and the status audit.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, externalID string, status Status) error
	ListNonTerminalOrders(ctx context.Context) ([]Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error)

	UpsertWatchedOrder(ctx context.Context, w *WatchedOrder) error
	UpdateWatchedStatus(ctx context.Context, externalID string, status Status) error
	ListWatchedOrders(ctx context.Context) ([]WatchedOrder, error)

	AppendStatusLog(ctx context.Context, e *StatusLogEntry) error
}

// PlanStore persists DCA plans. Claiming is transactional with skip-locked
// semantics so that concurrent schedulers never see the same due row.
type PlanStore interface {
	// ClaimDuePlans selects active plans due at now, moves their
	// next_execution_at forward by sentinel inside the same transaction,
	// and returns the claimed rows.
	ClaimDuePlans(ctx context.Context, now time.Time, sentinel time.Duration) ([]DCAPlan, error)
	ReschedulePlan(ctx context.Context, planID int64, next time.Time) error
	// CompleteExecution atomically inserts the order, upserts the watched
	// row, increments executed_count, and schedules the next run.
	CompleteExecution(ctx context.Context, plan *DCAPlan, order *Order, next time.Time) error
	InsertPlan(ctx context.Context, p *DCAPlan) error
	DeactivatePlan(ctx context.Context, planID int64) error
}

// LimitOrderStore persists price-armed intents.
type LimitOrderStore interface {
	ListArmed(ctx context.Context, now time.Time) ([]LimitOrder, error)
	MarkTriggered(ctx context.Context, id int64) error
	// MarkExecuting atomically records the created order, the watched row,
	// and the executing transition.
	MarkExecuting(ctx context.Context, lo *LimitOrder, order *Order) error
	RecordFailure(ctx context.Context, id int64, retryCount int, retryAfter time.Time, lastError string) error
	MarkDead(ctx context.Context, id int64, lastError string) error
	// ReclaimStuckTriggered re-arms triggered rows claimed before olderThan,
	// recovering orders orphaned by a crash mid-execution.
	ReclaimStuckTriggered(ctx context.Context, olderThan time.Time) (int64, error)
	InsertLimitOrder(ctx context.Context, lo *LimitOrder) error
}

// PriceStore persists cached prices. The refresher is the only producer;
// the limit worker is a read-only consumer.
type PriceStore interface {
	GetSnapshot(ctx context.Context, asset, chain string) (*PriceSnapshot, error)
	UpsertSnapshot(ctx context.Context, ps *PriceSnapshot) error
}

// UserStore reads user identity, balances, and settings.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetSettings(ctx context.Context, userID string) (*UserSettings, error)
}

// ILogger is the structured logging interface used everywhere.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IHealthMonitor aggregates component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

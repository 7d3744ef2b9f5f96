// Package limitorder implements the price-conditioned execution worker.
// Armed intents are evaluated against cached prices under a hard
// freshness-or-abstain rule, then promoted into live orders.
package limitorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"
	"swapsmith/pkg/retry"
	"swapsmith/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Config holds worker tuning.
type Config struct {
	TickInterval time.Duration
	MaxStaleness time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// ReclaimAfter bounds how long a row may sit in triggered before the
	// sweep re-arms it. Must exceed any plausible execution duration.
	ReclaimAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.MaxStaleness <= 0 {
		c.MaxStaleness = 10 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Minute
	}
	if c.ReclaimAfter <= 0 {
		c.ReclaimAfter = 10 * time.Minute
	}
}

// ExecutionClient is the slice of the aggregator client the worker needs.
type ExecutionClient interface {
	GetQuote(ctx context.Context, fromAsset, fromNetwork, toAsset, toNetwork string, amount decimal.Decimal) (*core.Quote, error)
	CreateOrder(ctx context.Context, quoteID, settleAddress, refundAddress string) (*core.CreatedOrder, error)
	GetPrice(ctx context.Context, asset, network string) (decimal.Decimal, error)
}

// Worker evaluates armed limit orders each tick.
type Worker struct {
	cfg      Config
	client   ExecutionClient
	store    core.LimitOrderStore
	prices   core.PriceStore
	users    core.UserStore
	tracker  core.Tracker
	notifier core.INotifier
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder

	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	now func() time.Time
}

// New builds a worker.
func New(cfg Config, client ExecutionClient, store core.LimitOrderStore, prices core.PriceStore,
	users core.UserStore, tracker core.Tracker, notifier core.INotifier, logger core.ILogger) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:      cfg,
		client:   client,
		store:    store,
		prices:   prices,
		users:    users,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.WithField("component", "limit_worker"),
		metrics:  telemetry.GetGlobalMetrics(),
		now:      time.Now,
	}
}

// Start launches the evaluation loop. Idempotent.
func (w *Worker) Start(ctx context.Context) error {
	if !w.isRunning.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.logger.Info("Limit-order worker started",
		"tick_interval", w.cfg.TickInterval,
		"max_staleness", w.cfg.MaxStaleness,
		"max_retries", w.cfg.MaxRetries)
	return nil
}

// Stop signals the loop and waits for the in-flight tick, bounded by 10s.
func (w *Worker) Stop() error {
	if !w.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		w.logger.Warn("Limit worker shutdown timed out")
	}
	w.logger.Info("Limit-order worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick evaluates every eligible armed order. Per-order failures never
// abort the batch.
func (w *Worker) tick(ctx context.Context) {
	now := w.now()

	// Recover rows orphaned in triggered by a crash or a failed terminal
	// write. They carry their retry state, so recovery costs nothing.
	if n, err := w.store.ReclaimStuckTriggered(ctx, now.Add(-w.cfg.ReclaimAfter)); err != nil {
		w.logger.Error("Failed to reclaim stuck triggered orders", "error", err)
	} else if n > 0 {
		w.logger.Warn("Re-armed limit orders stuck in triggered", "count", n)
	}

	armed, err := w.store.ListArmed(ctx, now)
	if err != nil {
		w.logger.Error("Failed to list armed limit orders", "error", err)
		return
	}

	for i := range armed {
		w.evaluate(ctx, &armed[i])
	}
}

// evaluate checks one armed order against a fresh price and fires it when
// the condition trips.
func (w *Worker) evaluate(ctx context.Context, lo *core.LimitOrder) {
	price, err := w.freshPrice(ctx, lo.RefAsset, lo.RefChain)
	if err != nil {
		if errors.Is(err, apperrors.ErrStalePrice) {
			// Freshness-or-abstain: a decision on old data is worse than
			// no decision. The order stays armed with retry state intact.
			w.logger.Warn("Price too stale to decide, abstaining",
				"limit_order_id", lo.ID, "asset", lo.RefAsset, "chain", lo.RefChain)
			return
		}
		w.logger.Warn("Price lookup failed, skipping tick",
			"limit_order_id", lo.ID, "error", err)
		return
	}

	if !lo.ShouldTrigger(price) {
		return
	}

	if err := w.store.MarkTriggered(ctx, lo.ID); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyClaimed) {
			// Another instance won the trigger race.
			return
		}
		w.logger.Error("Failed to mark limit order triggered", "limit_order_id", lo.ID, "error", err)
		return
	}
	w.metrics.RecordLimitTrigger(ctx)
	w.logger.Info("Limit order triggered",
		"limit_order_id", lo.ID, "condition", lo.Condition,
		"target", lo.TargetPrice, "price", price)

	w.execute(ctx, lo)
}

// freshPrice returns a decision-grade price: the cached snapshot when it
// is inside the staleness window, otherwise a direct live quote. If both
// fail the caller must abstain.
func (w *Worker) freshPrice(ctx context.Context, asset, chain string) (decimal.Decimal, error) {
	now := w.now()
	snap, err := w.prices.GetSnapshot(ctx, asset, chain)
	if err == nil && snap.Age(now) <= w.cfg.MaxStaleness {
		return snap.Price, nil
	}

	live, liveErr := w.client.GetPrice(ctx, asset, chain)
	if liveErr == nil {
		return live, nil
	}
	return decimal.Zero, apperrors.ErrStalePrice
}

// execute promotes a triggered order into a live aggregator order.
func (w *Worker) execute(ctx context.Context, lo *core.LimitOrder) {
	now := w.now()

	user, err := w.users.GetUser(ctx, lo.UserID)
	if err != nil {
		w.recordFailure(ctx, lo, fmt.Errorf("load user: %w", err))
		return
	}
	if user.SettleAddress == "" {
		w.recordFailure(ctx, lo, errors.New("user has no settlement address"))
		return
	}

	quote, err := w.client.GetQuote(ctx, lo.FromAsset, lo.FromNetwork, lo.ToAsset, lo.ToNetwork, lo.Amount)
	if err != nil {
		w.recordFailure(ctx, lo, err)
		return
	}

	created, err := w.client.CreateOrder(ctx, quote.ID, user.SettleAddress, user.RefundAddress)
	if err != nil {
		w.recordFailure(ctx, lo, err)
		return
	}

	order := &core.Order{
		ExternalID:     created.ID,
		UserID:         lo.UserID,
		FromAsset:      lo.FromAsset,
		FromNetwork:    lo.FromNetwork,
		FromAmount:     lo.Amount,
		ToAsset:        lo.ToAsset,
		ToNetwork:      lo.ToNetwork,
		SettleAmount:   quote.SettleAmount,
		DepositAddress: created.DepositAddress,
		DepositMemo:    created.DepositMemo,
		Status:         core.StatusPending,
		CreatedAt:      now,
	}
	if err := w.store.MarkExecuting(ctx, lo, order); err != nil {
		w.recordFailure(ctx, lo, err)
		return
	}

	if err := w.tracker.Track(ctx, order.ExternalID, order.UserID, order.CreatedAt); err != nil {
		w.logger.Error("Failed to register order with monitor", "order_id", order.ExternalID, "error", err)
	}

	w.logger.Info("Limit order executing",
		"limit_order_id", lo.ID, "order_id", order.ExternalID)
}

// permanentFailure reports whether cause can never succeed on a later
// attempt. Expired quotes are excluded: each attempt fetches a fresh one.
func permanentFailure(cause error) bool {
	var ue *apperrors.UpstreamError
	if !errors.As(cause, &ue) || ue.Transient() {
		return false
	}
	return apperrors.ClassifyPermanent(ue.Code) != apperrors.RetryWithFreshQuote
}

// recordFailure re-arms the order with exponential backoff, or retires it
// to dead once the retry budget is spent. Permanent upstream rejections
// retire immediately: retrying an invalid address burns the budget for
// nothing.
func (w *Worker) recordFailure(ctx context.Context, lo *core.LimitOrder, cause error) {
	retryCount := lo.RetryCount + 1
	if retryCount >= w.cfg.MaxRetries || permanentFailure(cause) {
		if err := w.store.MarkDead(ctx, lo.ID, cause.Error()); err != nil {
			w.logger.Error("Failed to mark limit order dead", "limit_order_id", lo.ID, "error", err)
			return
		}
		w.metrics.RecordLimitDead(ctx)
		w.logger.Error("Limit order retired",
			"limit_order_id", lo.ID, "attempts", retryCount, "error", cause)
		w.notifier.Notify(ctx, lo.UserID, "Limit order failed",
			fmt.Sprintf("Your %s %s limit order could not be executed: %v",
				lo.FromAsset, lo.ToAsset, cause))
		return
	}

	backoff := retry.Backoff(retryCount, w.cfg.BackoffBase, w.cfg.BackoffCap)
	retryAfter := w.now().Add(backoff)
	if err := w.store.RecordFailure(ctx, lo.ID, retryCount, retryAfter, cause.Error()); err != nil {
		w.logger.Error("Failed to record limit order failure", "limit_order_id", lo.ID, "error", err)
		return
	}
	w.logger.Warn("Limit order execution failed, backing off",
		"limit_order_id", lo.ID, "retry_count", retryCount,
		"retry_after", retryAfter, "error", cause)
}

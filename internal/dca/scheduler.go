// Package dca implements the recurring plan scheduler. Plans are claimed
// with skip-locked transactions so that any number of scheduler instances
// sharing the database execute each due plan exactly once.
package dca

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"swapsmith/internal/core"
	"swapsmith/pkg/concurrency"
	apperrors "swapsmith/pkg/errors"
	"swapsmith/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Config holds scheduler tuning.
type Config struct {
	TickInterval      time.Duration
	RetryDelay        time.Duration
	MaxProcessingTime time.Duration // claim lock sentinel window
	MaxConcurrent     int
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 60 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Minute
	}
	if c.MaxProcessingTime <= 0 {
		c.MaxProcessingTime = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
}

// SwapClient is the slice of the aggregator client the scheduler needs.
type SwapClient interface {
	GetQuote(ctx context.Context, fromAsset, fromNetwork, toAsset, toNetwork string, amount decimal.Decimal) (*core.Quote, error)
	CreateOrder(ctx context.Context, quoteID, settleAddress, refundAddress string) (*core.CreatedOrder, error)
}

// Scheduler claims due plans and turns each into a live order.
type Scheduler struct {
	cfg     Config
	client  SwapClient
	plans   core.PlanStore
	users   core.UserStore
	tracker core.Tracker
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	pool      *concurrency.WorkerPool
	isRunning atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	now      func() time.Time
	dispatch func(task func())
}

// New builds a scheduler. The tracker capability is how freshly created
// orders reach the monitor; the scheduler never sees the monitor itself.
func New(cfg Config, client SwapClient, plans core.PlanStore, users core.UserStore, tracker core.Tracker, logger core.ILogger) *Scheduler {
	cfg.applyDefaults()
	s := &Scheduler{
		cfg:     cfg,
		client:  client,
		plans:   plans,
		users:   users,
		tracker: tracker,
		logger:  logger.WithField("component", "dca_scheduler"),
		metrics: telemetry.GetGlobalMetrics(),
		now:     time.Now,
	}
	s.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "dca_executions",
		MaxWorkers: cfg.MaxConcurrent,
	}, logger)
	s.dispatch = func(task func()) { s.pool.Submit(task) }
	return s
}

// Start launches the claim loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)

	s.logger.Info("DCA scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"retry_delay", s.cfg.RetryDelay,
		"lock_sentinel", s.cfg.MaxProcessingTime)
	return nil
}

// Stop signals the loop and drains in-flight executions, bounded by 10s.
func (s *Scheduler) Stop() error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		s.pool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("Scheduler shutdown timed out waiting for executions")
	}
	s.logger.Info("DCA scheduler stopped")
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processDue(ctx)
		}
	}
}

// processDue claims every due plan in one skip-locked transaction, then
// executes the claims. The claim transaction already moved each plan's
// next_execution_at to the lock sentinel, so a crash mid-execution makes
// the plan reclaimable after MaxProcessingTime instead of wedged.
func (s *Scheduler) processDue(ctx context.Context) {
	now := s.now()
	claimed, err := s.plans.ClaimDuePlans(ctx, now, s.cfg.MaxProcessingTime)
	if err != nil {
		s.logger.Error("Failed to claim due plans", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	s.logger.Info("Claimed due plans", "count", len(claimed))

	for i := range claimed {
		plan := claimed[i]
		s.dispatch(func() {
			s.executePlan(ctx, &plan)
		})
	}
}

// executePlan runs one claimed plan end to end. Every early exit must
// reschedule the plan, otherwise the lock sentinel is the only thing
// keeping it from being claimed again.
func (s *Scheduler) executePlan(ctx context.Context, plan *core.DCAPlan) {
	now := s.now()

	user, err := s.users.GetUser(ctx, plan.UserID)
	if err != nil || user.SettleAddress == "" {
		// Not retryable by waiting: skip this window entirely.
		s.logger.Warn("Plan owner has no settlement address, skipping window",
			"plan_id", plan.ID, "user_id", plan.UserID)
		s.reschedule(ctx, plan.ID, now.Add(plan.Interval()))
		s.metrics.RecordDCAExecution(ctx, "skipped")
		return
	}

	quote, err := s.client.GetQuote(ctx, plan.FromAsset, plan.FromNetwork, plan.ToAsset, plan.ToNetwork, plan.Amount)
	if err != nil {
		s.retryLater(ctx, plan, "quote", err)
		return
	}

	created, err := s.client.CreateOrder(ctx, quote.ID, user.SettleAddress, user.RefundAddress)
	if err != nil {
		s.retryLater(ctx, plan, "create_order", err)
		return
	}

	order := &core.Order{
		ExternalID:     created.ID,
		UserID:         plan.UserID,
		FromAsset:      plan.FromAsset,
		FromNetwork:    plan.FromNetwork,
		FromAmount:     plan.Amount,
		ToAsset:        plan.ToAsset,
		ToNetwork:      plan.ToNetwork,
		SettleAmount:   quote.SettleAmount,
		DepositAddress: created.DepositAddress,
		DepositMemo:    created.DepositMemo,
		Status:         core.StatusPending,
		CreatedAt:      now,
	}

	next := now.Add(plan.Interval())
	if err := s.plans.CompleteExecution(ctx, plan, order, next); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateOrder) {
			// The order already landed in a previous attempt; the plan
			// bookkeeping went with it in the same transaction.
			s.logger.Warn("Execution already recorded", "plan_id", plan.ID, "order_id", created.ID)
			return
		}
		s.retryLater(ctx, plan, "persist", err)
		return
	}

	if err := s.tracker.Track(ctx, order.ExternalID, order.UserID, order.CreatedAt); err != nil {
		// The watched row exists via CompleteExecution; the monitor's
		// reconcile picks the order up even if this registration failed.
		s.logger.Error("Failed to register order with monitor", "order_id", order.ExternalID, "error", err)
	}

	s.metrics.RecordDCAExecution(ctx, "ok")
	s.logger.Info("Executed DCA plan",
		"plan_id", plan.ID, "order_id", order.ExternalID,
		"amount", plan.Amount, "next_execution", next)
}

func (s *Scheduler) retryLater(ctx context.Context, plan *core.DCAPlan, stage string, cause error) {
	retryAt := s.now().Add(s.cfg.RetryDelay)
	s.logger.Warn("Plan execution failed, scheduling retry",
		"plan_id", plan.ID, "stage", stage, "retry_at", retryAt, "error", cause)
	s.reschedule(ctx, plan.ID, retryAt)
	s.metrics.RecordDCAExecution(ctx, "retry")
}

func (s *Scheduler) reschedule(ctx context.Context, planID int64, next time.Time) {
	if err := s.plans.ReschedulePlan(ctx, planID, next); err != nil {
		// The lock sentinel still expires, so the plan is not lost.
		s.logger.Error("Failed to reschedule plan", "plan_id", planID, "error", err)
	}
}

// Package monitor implements the order polling engine. It owns the
// in-memory tracked set, polls the aggregator at an age-adaptive cadence,
// persists observed transitions, and fans them out to listeners.
package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"swapsmith/internal/core"
	"swapsmith/pkg/concurrency"
	apperrors "swapsmith/pkg/errors"
	"swapsmith/pkg/telemetry"

	"github.com/robfig/cron/v3"
)

// Config holds monitor tuning.
type Config struct {
	TickInterval      time.Duration
	MaxConcurrent     int
	PauseFallback     time.Duration // pause length when 429 carries no Retry-After
	ReconcileSchedule string        // cron spec for the periodic reconcile
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 10 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.PauseFallback <= 0 {
		c.PauseFallback = 60 * time.Second
	}
	if c.ReconcileSchedule == "" {
		c.ReconcileSchedule = "@hourly"
	}
}

// StatusClient is the slice of the aggregator client the monitor needs.
type StatusClient interface {
	GetOrderStatus(ctx context.Context, orderID string) (*core.OrderSnapshot, error)
}

// trackedOrder is one in-memory entry of the polling set.
type trackedOrder struct {
	orderID     string
	userID      string
	createdAt   time.Time
	lastStatus  core.Status
	lastChecked time.Time
	inFlight    bool
}

// Monitor polls tracked orders until they reach a terminal status.
// Registrations are durable (watched_orders) so a restarted instance
// rebuilds its set via LoadPending.
type Monitor struct {
	cfg     Config
	client  StatusClient
	store   core.OrderStore
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	pollPool   *concurrency.WorkerPool
	notifyPool *concurrency.WorkerPool

	mu          sync.Mutex
	orders      map[string]*trackedOrder
	listeners   []core.Listener
	pausedUntil time.Time

	cron      *cron.Cron
	isRunning atomic.Bool
	stop      chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// seams for deterministic tests
	now      func() time.Time
	jitter   func() time.Duration
	dispatch func(task func())
}

// New builds a monitor. Producers receive it as a core.Tracker; the
// application wires listeners via Subscribe before Start.
func New(cfg Config, client StatusClient, store core.OrderStore, logger core.ILogger) *Monitor {
	cfg.applyDefaults()

	m := &Monitor{
		cfg:     cfg,
		client:  client,
		store:   store,
		logger:  logger.WithField("component", "order_monitor"),
		metrics: telemetry.GetGlobalMetrics(),
		orders:  make(map[string]*trackedOrder),
		now:     time.Now,
	}
	m.jitter = func() time.Duration {
		return time.Duration(rand.Int63n(int64(5 * time.Second)))
	}
	m.pollPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "monitor_polls",
		MaxWorkers: cfg.MaxConcurrent,
	}, logger)
	m.notifyPool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "monitor_listeners",
		MaxWorkers: 2,
	}, logger)
	m.dispatch = func(task func()) { m.notifyPool.Submit(task) }
	return m
}

// Track idempotently registers an order for monitoring. The durable
// watched row lands first; only then does the order join the in-memory
// set, so a crash between the two is recovered by LoadPending.
func (m *Monitor) Track(ctx context.Context, orderID, userID string, createdAt time.Time) error {
	if orderID == "" {
		return &apperrors.ValidationError{Fields: []string{"orderID"}, Message: "order ID is required"}
	}

	err := m.store.UpsertWatchedOrder(ctx, &core.WatchedOrder{
		ExternalID: orderID,
		UserID:     userID,
		LastStatus: core.StatusPending,
		CreatedAt:  createdAt,
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[orderID]; !exists {
		m.orders[orderID] = &trackedOrder{
			orderID:    orderID,
			userID:     userID,
			createdAt:  createdAt,
			lastStatus: core.StatusPending,
		}
		m.metrics.SetTrackedOrders(int64(len(m.orders)))
		m.logger.Info("Tracking order", "order_id", orderID, "user_id", userID)
	}
	return nil
}

// Untrack removes an order from the in-memory set. Persisted rows stay.
func (m *Monitor) Untrack(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.orders[orderID]; exists {
		delete(m.orders, orderID)
		m.metrics.SetTrackedOrders(int64(len(m.orders)))
		m.logger.Debug("Untracked order", "order_id", orderID)
	}
}

// Subscribe registers a transition listener. Delivery is at-least-once
// across crashes; listeners must be idempotent by (orderID, newStatus).
func (m *Monitor) Subscribe(l core.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// LoadPending seeds the in-memory set from the durable watched rows.
// Idempotent: entries already present are left untouched so their
// lastChecked backoff state survives reconciliation.
func (m *Monitor) LoadPending(ctx context.Context) error {
	watched, err := m.store.ListWatchedOrders(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, w := range watched {
		if _, exists := m.orders[w.ExternalID]; exists {
			continue
		}
		m.orders[w.ExternalID] = &trackedOrder{
			orderID:    w.ExternalID,
			userID:     w.UserID,
			createdAt:  w.CreatedAt,
			lastStatus: w.LastStatus,
		}
		added++
	}
	m.metrics.SetTrackedOrders(int64(len(m.orders)))
	if added > 0 {
		m.logger.Info("Loaded pending orders", "added", added, "tracked", len(m.orders))
	}
	return nil
}

// Reconcile re-seeds the set from the database and force-polls every
// tracked order once, ignoring per-order backoff. Per-order failures are
// absorbed; the batch always runs to completion.
func (m *Monitor) Reconcile(ctx context.Context) error {
	if err := m.LoadPending(ctx); err != nil {
		return err
	}
	m.metrics.RecordReconciliation(ctx)

	for _, entry := range m.snapshotEntries() {
		if m.paused() {
			m.logger.Warn("Reconcile interrupted by rate-limit pause")
			break
		}
		m.pollOrder(ctx, entry.orderID)
	}
	return nil
}

// Start launches the tick loop and the reconcile schedule. Idempotent.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.isRunning.CompareAndSwap(false, true) {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stop = make(chan struct{})

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.cfg.ReconcileSchedule, func() {
		if err := m.Reconcile(runCtx); err != nil {
			m.logger.Error("Reconcile failed", "error", err)
		}
	}); err != nil {
		m.isRunning.Store(false)
		cancel()
		return fmt.Errorf("invalid reconcile schedule %q: %w", m.cfg.ReconcileSchedule, err)
	}
	m.cron.Start()

	m.wg.Add(1)
	go m.run(runCtx)

	m.logger.Info("Order monitor started",
		"tick_interval", m.cfg.TickInterval,
		"max_concurrent", m.cfg.MaxConcurrent,
		"reconcile", m.cfg.ReconcileSchedule)
	return nil
}

// Stop halts dispatch and waits for in-flight polls to drain, bounded by
// a 10s deadline. The run context stays alive until the drain finishes so
// a poll that already reached the aggregator can persist its result.
func (m *Monitor) Stop() error {
	if !m.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	if m.stop != nil {
		close(m.stop)
	}
	if m.cron != nil {
		m.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.pollPool.Stop()
		m.notifyPool.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		m.logger.Warn("Monitor shutdown timed out waiting for polls to drain")
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.logger.Info("Order monitor stopped")
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick selects the due subset and dispatches polls onto the bounded pool.
func (m *Monitor) tick(ctx context.Context) {
	if m.paused() {
		return
	}

	for _, id := range m.selectDue() {
		orderID := id
		m.pollPool.Submit(func() {
			m.pollOrder(ctx, orderID)
		})
	}
}

// pollInterval returns the polling cadence for an order of the given age.
func pollInterval(age time.Duration) time.Duration {
	switch {
	case age < 5*time.Minute:
		return 15 * time.Second
	case age < 30*time.Minute:
		return 60 * time.Second
	case age < 2*time.Hour:
		return 5 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// selectDue returns order IDs whose backoff interval has elapsed and
// marks them in-flight.
func (m *Monitor) selectDue() []string {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []string
	for id, t := range m.orders {
		if t.inFlight {
			continue
		}
		if now.Sub(t.lastChecked) >= pollInterval(now.Sub(t.createdAt)) {
			t.inFlight = true
			due = append(due, id)
		}
	}
	return due
}

type entrySnapshot struct {
	orderID string
	userID  string
}

func (m *Monitor) snapshotEntries() []entrySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]entrySnapshot, 0, len(m.orders))
	for _, t := range m.orders {
		entries = append(entries, entrySnapshot{orderID: t.orderID, userID: t.userID})
	}
	return entries
}

func (m *Monitor) paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now().Before(m.pausedUntil)
}

// setPause installs the global pause window. Jitter is added so multiple
// instances resuming from the same 429 do not stampede the aggregator.
func (m *Monitor) setPause(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = m.cfg.PauseFallback
	}
	until := m.now().Add(retryAfter + m.jitter())

	m.mu.Lock()
	defer m.mu.Unlock()
	if until.After(m.pausedUntil) {
		m.pausedUntil = until
		m.logger.Warn("Rate limited, pausing all polling", "until", until)
	}
}

// pollOrder queries the aggregator for one order and applies the result.
func (m *Monitor) pollOrder(ctx context.Context, orderID string) {
	start := m.now()
	defer m.clearInFlight(orderID)

	snapshot, err := m.client.GetOrderStatus(ctx, orderID)
	elapsed := float64(m.now().Sub(start).Milliseconds())
	if err != nil {
		m.handlePollError(ctx, orderID, err)
		m.metrics.RecordPoll(ctx, "error", elapsed)
		return
	}
	m.metrics.RecordPoll(ctx, "ok", elapsed)
	m.touchChecked(orderID)

	m.mu.Lock()
	t, exists := m.orders[orderID]
	var oldStatus core.Status
	var userID string
	if exists {
		oldStatus = t.lastStatus
		userID = t.userID
	}
	m.mu.Unlock()
	if !exists || snapshot.Status == oldStatus {
		return
	}

	m.applyTransition(ctx, userID, orderID, oldStatus, snapshot)
}

func (m *Monitor) handlePollError(ctx context.Context, orderID string, err error) {
	var ue *apperrors.UpstreamError
	if errors.As(err, &ue) && ue.HTTPStatus == 429 {
		m.metrics.RecordPause(ctx)
		m.setPause(ue.RetryAfter)
		return
	}
	// Transient failures keep the order in the set with lastStatus
	// unchanged; the next tick retries.
	m.touchChecked(orderID)
	if apperrors.IsTransient(err) {
		m.logger.Warn("Poll failed, will retry", "order_id", orderID, "error", err)
		return
	}
	m.logger.Error("Poll failed", "order_id", orderID, "error", err)
}

// applyTransition persists one observed transition and fans it out. If
// persistence fails, lastStatus is left unchanged so the same transition
// is re-observed and re-applied on the next tick.
func (m *Monitor) applyTransition(ctx context.Context, userID, orderID string, oldStatus core.Status, snapshot *core.OrderSnapshot) {
	newStatus := snapshot.Status
	logEntry := &core.StatusLogEntry{
		OrderID:     orderID,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Fingerprint: snapshotFingerprint(snapshot),
	}
	if err := m.store.AppendStatusLog(ctx, logEntry); err != nil {
		m.logger.Error("Failed to append status log, will re-observe", "order_id", orderID, "error", err)
		return
	}
	if err := m.store.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		m.logger.Error("Failed to persist order status, will re-observe", "order_id", orderID, "error", err)
		return
	}
	if err := m.store.UpdateWatchedStatus(ctx, orderID, newStatus); err != nil {
		m.logger.Error("Failed to persist watched status, will re-observe", "order_id", orderID, "error", err)
		return
	}

	m.mu.Lock()
	if t, exists := m.orders[orderID]; exists {
		t.lastStatus = newStatus
	}
	listeners := make([]core.Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.metrics.RecordTransition(ctx, string(newStatus))
	m.logger.Info("Order status changed",
		"order_id", orderID, "old", oldStatus, "new", newStatus)

	for _, l := range listeners {
		listener := l
		m.dispatch(func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Listener panicked", "order_id", orderID, "panic", r)
				}
			}()
			listener(userID, orderID, oldStatus, newStatus, snapshot)
		})
	}

	if newStatus.IsTerminal() {
		m.Untrack(orderID)
	}
}

func (m *Monitor) touchChecked(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, exists := m.orders[orderID]; exists {
		t.lastChecked = m.now()
	}
}

func (m *Monitor) clearInFlight(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, exists := m.orders[orderID]; exists {
		t.inFlight = false
	}
}

// snapshotFingerprint derives the audit fingerprint for one observed
// aggregator payload.
func snapshotFingerprint(s *core.OrderSnapshot) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		s.ID, s.Status, s.DepositHash, s.SettleHash, s.UpdatedAt.UnixNano())))
	return hex.EncodeToString(sum[:8])
}

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersTracked          = "swapsmith_orders_tracked"
	MetricPollsTotal             = "swapsmith_polls_total"
	MetricPollDuration           = "swapsmith_poll_duration_ms"
	MetricTransitionsTotal       = "swapsmith_status_transitions_total"
	MetricRateLimitPausesTotal   = "swapsmith_rate_limit_pauses_total"
	MetricDCAExecutionsTotal     = "swapsmith_dca_executions_total"
	MetricLimitTriggersTotal     = "swapsmith_limit_triggers_total"
	MetricLimitDeadTotal         = "swapsmith_limit_dead_total"
	MetricNotificationsTotal     = "swapsmith_notifications_total"
	MetricPriceRefreshesTotal    = "swapsmith_price_refreshes_total"
	MetricReconciliationsTotal   = "swapsmith_reconciliations_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	OrdersTracked        metric.Int64ObservableGauge
	PollsTotal           metric.Int64Counter
	PollDuration         metric.Float64Histogram
	TransitionsTotal     metric.Int64Counter
	RateLimitPausesTotal metric.Int64Counter
	DCAExecutionsTotal   metric.Int64Counter
	LimitTriggersTotal   metric.Int64Counter
	LimitDeadTotal       metric.Int64Counter
	NotificationsTotal   metric.Int64Counter
	PriceRefreshesTotal  metric.Int64Counter
	ReconciliationsTotal metric.Int64Counter

	// State for observable gauges
	mu            sync.RWMutex
	trackedOrders int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PollsTotal, err = meter.Int64Counter(MetricPollsTotal, metric.WithDescription("Total aggregator status polls issued"))
	if err != nil {
		return err
	}

	m.PollDuration, err = meter.Float64Histogram(MetricPollDuration, metric.WithDescription("Latency of aggregator status polls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.TransitionsTotal, err = meter.Int64Counter(MetricTransitionsTotal, metric.WithDescription("Total observed order status transitions"))
	if err != nil {
		return err
	}

	m.RateLimitPausesTotal, err = meter.Int64Counter(MetricRateLimitPausesTotal, metric.WithDescription("Total global pauses triggered by 429 responses"))
	if err != nil {
		return err
	}

	m.DCAExecutionsTotal, err = meter.Int64Counter(MetricDCAExecutionsTotal, metric.WithDescription("Total DCA plan executions"))
	if err != nil {
		return err
	}

	m.LimitTriggersTotal, err = meter.Int64Counter(MetricLimitTriggersTotal, metric.WithDescription("Total limit order triggers"))
	if err != nil {
		return err
	}

	m.LimitDeadTotal, err = meter.Int64Counter(MetricLimitDeadTotal, metric.WithDescription("Total limit orders moved to dead state"))
	if err != nil {
		return err
	}

	m.NotificationsTotal, err = meter.Int64Counter(MetricNotificationsTotal, metric.WithDescription("Total user notifications delivered"))
	if err != nil {
		return err
	}

	m.PriceRefreshesTotal, err = meter.Int64Counter(MetricPriceRefreshesTotal, metric.WithDescription("Total price snapshot refreshes"))
	if err != nil {
		return err
	}

	m.ReconciliationsTotal, err = meter.Int64Counter(MetricReconciliationsTotal, metric.WithDescription("Total monitor reconciliation runs"))
	if err != nil {
		return err
	}

	m.OrdersTracked, err = meter.Int64ObservableGauge(MetricOrdersTracked, metric.WithDescription("Orders currently tracked by the monitor"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.trackedOrders)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// SetTrackedOrders updates the tracked-order gauge state
func (m *MetricsHolder) SetTrackedOrders(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackedOrders = n
}

// RecordPoll records one poll with its outcome and latency
func (m *MetricsHolder) RecordPoll(ctx context.Context, result string, durationMs float64) {
	if m.PollsTotal != nil {
		m.PollsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
	if m.PollDuration != nil {
		m.PollDuration.Record(ctx, durationMs)
	}
}

// RecordTransition records one observed status transition
func (m *MetricsHolder) RecordTransition(ctx context.Context, status string) {
	if m.TransitionsTotal != nil {
		m.TransitionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordPause records one global rate-limit pause
func (m *MetricsHolder) RecordPause(ctx context.Context) {
	if m.RateLimitPausesTotal != nil {
		m.RateLimitPausesTotal.Add(ctx, 1)
	}
}

// RecordDCAExecution records one plan execution outcome
func (m *MetricsHolder) RecordDCAExecution(ctx context.Context, result string) {
	if m.DCAExecutionsTotal != nil {
		m.DCAExecutionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordLimitTrigger records one limit order trigger
func (m *MetricsHolder) RecordLimitTrigger(ctx context.Context) {
	if m.LimitTriggersTotal != nil {
		m.LimitTriggersTotal.Add(ctx, 1)
	}
}

// RecordLimitDead records one limit order retired to dead
func (m *MetricsHolder) RecordLimitDead(ctx context.Context) {
	if m.LimitDeadTotal != nil {
		m.LimitDeadTotal.Add(ctx, 1)
	}
}

// RecordNotification records one delivered notification
func (m *MetricsHolder) RecordNotification(ctx context.Context, channel string) {
	if m.NotificationsTotal != nil {
		m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
	}
}

// RecordPriceRefresh records one snapshot refresh outcome
func (m *MetricsHolder) RecordPriceRefresh(ctx context.Context, result string) {
	if m.PriceRefreshesTotal != nil {
		m.PriceRefreshesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordReconciliation records one monitor reconciliation run
func (m *MetricsHolder) RecordReconciliation(ctx context.Context) {
	if m.ReconciliationsTotal != nil {
		m.ReconciliationsTotal.Add(ctx, 1)
	}
}

package dca

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

// fakePlanStore mimics the skip-locked claim: the whole claim runs under
// one mutex, exactly like the row locks make it atomic in Postgres.
type fakePlanStore struct {
	mu         sync.Mutex
	plans      map[int64]*core.DCAPlan
	orders     map[string]*core.Order
	watched    map[string]bool
	executions int
}

func newFakePlanStore() *fakePlanStore {
	return &fakePlanStore{
		plans:   make(map[int64]*core.DCAPlan),
		orders:  make(map[string]*core.Order),
		watched: make(map[string]bool),
	}
}

func (f *fakePlanStore) ClaimDuePlans(ctx context.Context, now time.Time, sentinel time.Duration) ([]core.DCAPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []core.DCAPlan
	for _, p := range f.plans {
		if p.IsActive && !p.NextExecutionAt.After(now) {
			p.NextExecutionAt = now.Add(sentinel)
			claimed = append(claimed, *p)
		}
	}
	return claimed, nil
}

func (f *fakePlanStore) ReschedulePlan(ctx context.Context, planID int64, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[planID]; ok {
		p.NextExecutionAt = next
	}
	return nil
}

func (f *fakePlanStore) CompleteExecution(ctx context.Context, plan *core.DCAPlan, order *core.Order, next time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.orders[order.ExternalID]; dup {
		return apperrors.ErrDuplicateOrder
	}
	cp := *order
	f.orders[order.ExternalID] = &cp
	f.watched[order.ExternalID] = true
	p := f.plans[plan.ID]
	p.ExecutedCount++
	p.NextExecutionAt = next
	f.executions++
	return nil
}

func (f *fakePlanStore) InsertPlan(ctx context.Context, p *core.DCAPlan) error { return nil }

func (f *fakePlanStore) DeactivatePlan(ctx context.Context, planID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.plans[planID]; ok {
		p.IsActive = false
	}
	return nil
}

type fakeUserStore struct {
	users map[string]*core.User
}

func (f *fakeUserStore) GetUser(ctx context.Context, userID string) (*core.User, error) {
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeUserStore) GetSettings(ctx context.Context, userID string) (*core.UserSettings, error) {
	return &core.UserSettings{UserID: userID}, nil
}

type fakeSwapClient struct {
	mu        sync.Mutex
	quoteErr  error
	orderErr  error
	quotes    int
	created   int
	nextOrder func() string
}

func (f *fakeSwapClient) GetQuote(ctx context.Context, fromAsset, fromNetwork, toAsset, toNetwork string, amount decimal.Decimal) (*core.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	f.quotes++
	return &core.Quote{
		ID:           fmt.Sprintf("q-%d", f.quotes),
		SettleAmount: amount.Mul(decimal.NewFromInt(2000)),
		Rate:         decimal.NewFromInt(2000),
		ExpiresAt:    time.Now().Add(time.Minute),
	}, nil
}

func (f *fakeSwapClient) CreateOrder(ctx context.Context, quoteID, settleAddress, refundAddress string) (*core.CreatedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.created++
	id := fmt.Sprintf("o-%d", f.created)
	if f.nextOrder != nil {
		id = f.nextOrder()
	}
	return &core.CreatedOrder{ID: id, DepositAddress: "dep-addr"}, nil
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked []string
}

func (f *fakeTracker) Track(ctx context.Context, orderID, userID string, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, orderID)
	return nil
}

func newTestScheduler(t *testing.T, plans *fakePlanStore, users *fakeUserStore, client *fakeSwapClient, tracker *fakeTracker) (*Scheduler, *time.Time) {
	t.Helper()
	s := New(Config{}, client, plans, users, tracker, &mockLogger{})
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	s.now = func() time.Time { return *clock }
	s.dispatch = func(task func()) { task() } // synchronous execution
	return s, clock
}

func duePlan(id int64, userID string, now time.Time) *core.DCAPlan {
	return &core.DCAPlan{
		ID:              id,
		UserID:          userID,
		FromAsset:       "USDC",
		FromNetwork:     "polygon",
		ToAsset:         "ETH",
		ToNetwork:       "ethereum",
		Amount:          decimal.NewFromInt(100),
		IntervalHours:   24,
		NextExecutionAt: now.Add(-time.Second),
		IsActive:        true,
	}
}

func TestProcessDueExecutesPlan(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1", SettleAddress: "0xsettle", RefundAddress: "0xrefund"},
	}}
	client := &fakeSwapClient{}
	tracker := &fakeTracker{}
	s, clock := newTestScheduler(t, plans, users, client, tracker)

	plans.plans[1] = duePlan(1, "u1", *clock)
	s.processDue(context.Background())

	p := plans.plans[1]
	assert.Equal(t, 1, p.ExecutedCount)
	assert.Equal(t, clock.Add(24*time.Hour), p.NextExecutionAt)
	assert.Len(t, plans.orders, 1)
	assert.Equal(t, []string{"o-1"}, tracker.tracked)
	assert.True(t, plans.watched["o-1"])
}

func TestExactlyOnceUnderContention(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1", SettleAddress: "0xsettle"},
	}}
	tracker := &fakeTracker{}
	clientA := &fakeSwapClient{nextOrder: func() string { return "o-A" }}
	clientB := &fakeSwapClient{nextOrder: func() string { return "o-B" }}

	a, clock := newTestScheduler(t, plans, users, clientA, tracker)
	b, _ := newTestScheduler(t, plans, users, clientB, tracker)
	b.now = a.now

	plans.plans[1] = duePlan(1, "u1", *clock)

	var wg sync.WaitGroup
	for _, inst := range []*Scheduler{a, b} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			s.processDue(context.Background())
		}(inst)
	}
	wg.Wait()

	assert.Equal(t, 1, plans.executions, "the due plan must execute exactly once")
	assert.Equal(t, 1, plans.plans[1].ExecutedCount)
	assert.Equal(t, clock.Add(24*time.Hour), plans.plans[1].NextExecutionAt)
}

func TestMissingSettleAddressSkipsWindow(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1"}, // no settle address
	}}
	client := &fakeSwapClient{}
	tracker := &fakeTracker{}
	s, clock := newTestScheduler(t, plans, users, client, tracker)

	plans.plans[1] = duePlan(1, "u1", *clock)
	s.processDue(context.Background())

	p := plans.plans[1]
	assert.Equal(t, 0, p.ExecutedCount)
	assert.Equal(t, clock.Add(24*time.Hour), p.NextExecutionAt, "window is skipped, not retried")
	assert.Empty(t, plans.orders)
	assert.Equal(t, 0, client.quotes)
}

func TestQuoteFailureSchedulesRetry(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1", SettleAddress: "0xsettle"},
	}}
	client := &fakeSwapClient{quoteErr: &apperrors.UpstreamError{HTTPStatus: 503, Code: "UNAVAILABLE"}}
	tracker := &fakeTracker{}
	s, clock := newTestScheduler(t, plans, users, client, tracker)

	plans.plans[1] = duePlan(1, "u1", *clock)
	s.processDue(context.Background())

	p := plans.plans[1]
	assert.Equal(t, 0, p.ExecutedCount)
	assert.Equal(t, clock.Add(5*time.Minute), p.NextExecutionAt)
	assert.Empty(t, plans.orders)
	assert.Empty(t, tracker.tracked)
}

func TestOrderFailureSchedulesRetry(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1", SettleAddress: "0xsettle"},
	}}
	client := &fakeSwapClient{orderErr: &apperrors.UpstreamError{HTTPStatus: 500, Code: "INTERNAL"}}
	tracker := &fakeTracker{}
	s, clock := newTestScheduler(t, plans, users, client, tracker)

	plans.plans[1] = duePlan(1, "u1", *clock)
	s.processDue(context.Background())

	assert.Equal(t, clock.Add(5*time.Minute), plans.plans[1].NextExecutionAt)
	assert.Empty(t, plans.orders)
}

func TestDuplicateOrderIsAbsorbed(t *testing.T) {
	plans := newFakePlanStore()
	users := &fakeUserStore{users: map[string]*core.User{
		"u1": {ID: "u1", SettleAddress: "0xsettle"},
	}}
	client := &fakeSwapClient{nextOrder: func() string { return "o-dup" }}
	tracker := &fakeTracker{}
	s, clock := newTestScheduler(t, plans, users, client, tracker)

	plans.plans[1] = duePlan(1, "u1", *clock)
	plans.orders["o-dup"] = &core.Order{ExternalID: "o-dup"}

	require.NotPanics(t, func() { s.processDue(context.Background()) })
	assert.Equal(t, 0, plans.plans[1].ExecutedCount)
	assert.Empty(t, tracker.tracked)
}

func TestClaimedPlanIsInvisibleUntilSentinelExpires(t *testing.T) {
	plans := newFakePlanStore()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	plans.plans[1] = duePlan(1, "u1", now)

	claimed, err := plans.ClaimDuePlans(context.Background(), now, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := plans.ClaimDuePlans(context.Background(), now.Add(9*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed plan must stay invisible inside the sentinel window")

	reclaim, err := plans.ClaimDuePlans(context.Background(), now.Add(11*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.Len(t, reclaim, 1, "crashed claimant's plan becomes reclaimable")
}

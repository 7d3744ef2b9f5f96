package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"swapsmith/internal/core"
	apperrors "swapsmith/pkg/errors"

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

// fakeAggregator scripts status responses per order ID.
type fakeAggregator struct {
	mu        sync.Mutex
	responses map[string][]interface{} // *core.OrderSnapshot or error, consumed in order
	calls     int
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{responses: make(map[string][]interface{})}
}

func (f *fakeAggregator) push(orderID string, r interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[orderID] = append(f.responses[orderID], r)
}

func (f *fakeAggregator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAggregator) GetOrderStatus(ctx context.Context, orderID string) (*core.OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	queue := f.responses[orderID]
	if len(queue) == 0 {
		return &core.OrderSnapshot{ID: orderID, Status: core.StatusPending}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		f.responses[orderID] = queue[1:]
	}
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*core.OrderSnapshot), nil
}

// fakeStore is an in-memory OrderStore.
type fakeStore struct {
	mu        sync.Mutex
	watched   map[string]*core.WatchedOrder
	orders    map[string]core.Status
	statusLog []core.StatusLogEntry
	failLog   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		watched: make(map[string]*core.WatchedOrder),
		orders:  make(map[string]core.Status),
	}
}

func (f *fakeStore) InsertOrder(ctx context.Context, o *core.Order) error { return nil }

func (f *fakeStore) UpdateOrderStatus(ctx context.Context, externalID string, status core.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[externalID] = status
	return nil
}

func (f *fakeStore) ListNonTerminalOrders(ctx context.Context) ([]core.Order, error) {
	return nil, nil
}

func (f *fakeStore) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]core.Order, error) {
	return nil, nil
}

func (f *fakeStore) UpsertWatchedOrder(ctx context.Context, w *core.WatchedOrder) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.watched[w.ExternalID]; !exists {
		cp := *w
		f.watched[w.ExternalID] = &cp
	}
	return nil
}

func (f *fakeStore) UpdateWatchedStatus(ctx context.Context, externalID string, status core.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.watched[externalID]; ok {
		w.LastStatus = status
	}
	return nil
}

func (f *fakeStore) ListWatchedOrders(ctx context.Context) ([]core.WatchedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.WatchedOrder
	for _, w := range f.watched {
		if !w.LastStatus.IsTerminal() {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (f *fakeStore) AppendStatusLog(ctx context.Context, e *core.StatusLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLog {
		return &apperrors.PersistenceError{Op: "append_status_log", Err: context.DeadlineExceeded}
	}
	f.statusLog = append(f.statusLog, *e)
	return nil
}

func (f *fakeStore) watchedStatus(orderID string) core.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.watched[orderID]; ok {
		return w.LastStatus
	}
	return ""
}

type transition struct {
	orderID   string
	oldStatus core.Status
	newStatus core.Status
}

func newTestMonitor(t *testing.T, agg *fakeAggregator, store *fakeStore) (*Monitor, *time.Time) {
	t.Helper()
	m := New(Config{}, agg, store, &mockLogger{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }
	m.jitter = func() time.Duration { return 0 }
	m.dispatch = func(task func()) { task() } // synchronous listener dispatch
	return m, clock
}

func TestTrackIsIdempotent(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestMonitor(t, newFakeAggregator(), store)
	ctx := context.Background()
	created := m.now()

	require.NoError(t, m.Track(ctx, "X1", "u1", created))
	require.NoError(t, m.Track(ctx, "X1", "u1", created))
	m.Untrack("X1")
	require.NoError(t, m.Track(ctx, "X1", "u1", created))

	assert.Len(t, store.watched, 1)
	assert.Len(t, m.orders, 1)
}

func TestTrackRejectsEmptyOrderID(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeAggregator(), newFakeStore())
	err := m.Track(context.Background(), "", "u1", m.now())
	var ve *apperrors.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestLoadPendingSeedsAndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.watched["O1"] = &core.WatchedOrder{
		ExternalID: "O1", UserID: "u1",
		LastStatus: core.StatusProcessing,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	m, _ := newTestMonitor(t, newFakeAggregator(), store)
	ctx := context.Background()

	require.NoError(t, m.LoadPending(ctx))
	require.Len(t, m.orders, 1)
	assert.Equal(t, core.StatusProcessing, m.orders["O1"].lastStatus)

	// Second run leaves the set unchanged.
	first := m.orders["O1"]
	require.NoError(t, m.LoadPending(ctx))
	assert.Len(t, m.orders, 1)
	assert.Same(t, first, m.orders["O1"])
}

func TestCrashRecoveryPollsRecoveredOrder(t *testing.T) {
	store := newFakeStore()
	store.watched["O1"] = &core.WatchedOrder{
		ExternalID: "O1", UserID: "u1",
		LastStatus: core.StatusProcessing,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	agg := newFakeAggregator()
	agg.push("O1", &core.OrderSnapshot{ID: "O1", Status: core.StatusProcessing})

	m, _ := newTestMonitor(t, agg, store)
	require.NoError(t, m.LoadPending(context.Background()))

	due := m.selectDue()
	require.Equal(t, []string{"O1"}, due)
	m.pollOrder(context.Background(), "O1")
	assert.Equal(t, 1, agg.callCount())
}

func TestHappyPathTransitionSequence(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, clock := newTestMonitor(t, agg, store)
	ctx := context.Background()

	var got []transition
	m.Subscribe(func(userID, orderID string, oldStatus, newStatus core.Status, snapshot *core.OrderSnapshot) {
		got = append(got, transition{orderID, oldStatus, newStatus})
	})

	require.NoError(t, m.Track(ctx, "X1", "u1", m.now()))

	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusPending})
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusProcessing})
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusSettled})

	for i := 0; i < 3; i++ {
		*clock = clock.Add(16 * time.Second)
		for _, id := range m.selectDue() {
			m.pollOrder(ctx, id)
		}
	}

	require.Equal(t, []transition{
		{"X1", core.StatusPending, core.StatusProcessing},
		{"X1", core.StatusProcessing, core.StatusSettled},
	}, got)

	m.mu.Lock()
	_, stillTracked := m.orders["X1"]
	m.mu.Unlock()
	assert.False(t, stillTracked, "settled order must leave the tracked set")
	assert.Equal(t, core.StatusSettled, store.watchedStatus("X1"))
	assert.Len(t, store.statusLog, 2)
}

func TestRateLimitPausesAllPolling(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, clock := newTestMonitor(t, agg, store)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, m.Track(ctx, id, "u1", m.now()))
	}
	agg.push("A", &apperrors.UpstreamError{HTTPStatus: 429, Code: "RATE_LIMIT", RetryAfter: 30 * time.Second})

	*clock = clock.Add(16 * time.Second)
	m.pollOrder(ctx, "A")
	callsAfterPause := agg.callCount()

	// While paused no tick selects anything.
	assert.True(t, m.paused())
	m.tick(ctx)
	m.tick(ctx)
	assert.Equal(t, callsAfterPause, agg.callCount())

	// Pause expires exactly at Retry-After (zero jitter in tests).
	*clock = clock.Add(29 * time.Second)
	assert.True(t, m.paused())
	*clock = clock.Add(2 * time.Second)
	assert.False(t, m.paused())
}

func TestRateLimitFallbackPause(t *testing.T) {
	m, clock := newTestMonitor(t, newFakeAggregator(), newFakeStore())
	m.setPause(0)
	assert.True(t, m.paused())
	*clock = clock.Add(59 * time.Second)
	assert.True(t, m.paused())
	*clock = clock.Add(2 * time.Second)
	assert.False(t, m.paused())
}

func TestPollIntervalBackoffTable(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want time.Duration
	}{
		{time.Minute, 15 * time.Second},
		{4 * time.Minute, 15 * time.Second},
		{5 * time.Minute, 60 * time.Second},
		{29 * time.Minute, 60 * time.Second},
		{30 * time.Minute, 5 * time.Minute},
		{90 * time.Minute, 5 * time.Minute},
		{2 * time.Hour, 15 * time.Minute},
		{48 * time.Hour, 15 * time.Minute},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, pollInterval(tc.age), "age %s", tc.age)
	}
}

func TestTransientFailureKeepsOrderTracked(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, clock := newTestMonitor(t, agg, store)
	ctx := context.Background()

	require.NoError(t, m.Track(ctx, "X1", "u1", m.now()))
	agg.push("X1", &apperrors.UpstreamError{HTTPStatus: 503, Code: "UPSTREAM_DOWN"})
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusProcessing})

	*clock = clock.Add(16 * time.Second)
	m.pollOrder(ctx, "X1")

	m.mu.Lock()
	tr := m.orders["X1"]
	m.mu.Unlock()
	require.NotNil(t, tr)
	assert.Equal(t, core.StatusPending, tr.lastStatus)

	// Next due poll succeeds and applies the transition.
	*clock = clock.Add(16 * time.Second)
	for _, id := range m.selectDue() {
		m.pollOrder(ctx, id)
	}
	assert.Equal(t, core.StatusProcessing, store.watchedStatus("X1"))
}

func TestPersistenceFailureReobservesTransition(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, clock := newTestMonitor(t, agg, store)
	ctx := context.Background()

	require.NoError(t, m.Track(ctx, "X1", "u1", m.now()))
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusProcessing})
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusProcessing})

	store.failLog = true
	*clock = clock.Add(16 * time.Second)
	m.pollOrder(ctx, "X1")

	m.mu.Lock()
	assert.Equal(t, core.StatusPending, m.orders["X1"].lastStatus)
	m.mu.Unlock()

	store.failLog = false
	*clock = clock.Add(16 * time.Second)
	for _, id := range m.selectDue() {
		m.pollOrder(ctx, id)
	}
	assert.Equal(t, core.StatusProcessing, store.watchedStatus("X1"))
	assert.Len(t, store.statusLog, 1)
}

func TestListenerPanicDoesNotAbortPolling(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, clock := newTestMonitor(t, agg, store)
	ctx := context.Background()

	m.Subscribe(func(userID, orderID string, oldStatus, newStatus core.Status, snapshot *core.OrderSnapshot) {
		panic("listener bug")
	})
	var delivered int
	m.Subscribe(func(userID, orderID string, oldStatus, newStatus core.Status, snapshot *core.OrderSnapshot) {
		delivered++
	})

	require.NoError(t, m.Track(ctx, "X1", "u1", m.now()))
	agg.push("X1", &core.OrderSnapshot{ID: "X1", Status: core.StatusSettled})

	*clock = clock.Add(16 * time.Second)
	assert.NotPanics(t, func() { m.pollOrder(ctx, "X1") })
	assert.Equal(t, 1, delivered)
}

func TestReconcileForcePollsIgnoringBackoff(t *testing.T) {
	store := newFakeStore()
	agg := newFakeAggregator()
	m, _ := newTestMonitor(t, agg, store)
	ctx := context.Background()

	require.NoError(t, m.Track(ctx, "X1", "u1", m.now()))
	require.NoError(t, m.Track(ctx, "X2", "u1", m.now()))
	m.touchChecked("X1")
	m.touchChecked("X2")

	require.Empty(t, m.selectDue(), "freshly checked orders are not due")
	require.NoError(t, m.Reconcile(ctx))
	assert.Equal(t, 2, agg.callCount())
}

// slowStatusClient records whether polls finish or see a canceled context.
type slowStatusClient struct {
	mu        sync.Mutex
	completed int
	aborted   int
}

func (c *slowStatusClient) GetOrderStatus(ctx context.Context, orderID string) (*core.OrderSnapshot, error) {
	time.Sleep(150 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		c.aborted++
		return nil, ctx.Err()
	}
	c.completed++
	return &core.OrderSnapshot{ID: orderID, Status: core.StatusProcessing, UpdatedAt: time.Now()}, nil
}

func TestStopDrainsInFlightPolls(t *testing.T) {
	store := newFakeStore()
	client := &slowStatusClient{}
	m := New(Config{TickInterval: 20 * time.Millisecond}, client, store, &mockLogger{})

	require.NoError(t, m.Track(context.Background(), "SLOW1", "u1", time.Now()))
	require.NoError(t, m.Start(context.Background()))

	// Let a tick dispatch the poll, then stop while it is mid-flight.
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, m.Stop())

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Zero(t, client.aborted, "shutdown must not cancel a poll already in flight")
	assert.GreaterOrEqual(t, client.completed, 1)
	assert.Equal(t, core.StatusProcessing, store.watchedStatus("SLOW1"),
		"the drained poll's transition must be persisted")
}

package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"swapsmith/internal/core"

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

type captureChannel struct {
	name   string
	events chan Event
	err    error
}

func newCaptureChannel(name string) *captureChannel {
	return &captureChannel{name: name, events: make(chan Event, 8)}
}

func (c *captureChannel) Name() string { return c.name }

func (c *captureChannel) Send(ctx context.Context, e Event) error {
	if c.err != nil {
		return c.err
	}
	c.events <- e
	return nil
}

func receive(t *testing.T, ch *captureChannel) Event {
	t.Helper()
	select {
	case e := <-ch.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("channel %s received nothing", ch.name)
		return Event{}
	}
}

func TestNotifyFansOutToAllChannels(t *testing.T) {
	n := New(&mockLogger{})
	a := newCaptureChannel("a")
	b := newCaptureChannel("b")
	n.AddChannel(a)
	n.AddChannel(b)

	n.Notify(context.Background(), "u1", "Swap settled", "done")

	ea := receive(t, a)
	eb := receive(t, b)
	assert.Equal(t, "u1", ea.UserID)
	assert.Equal(t, "Swap settled", ea.Title)
	assert.Equal(t, ea.Title, eb.Title)
}

func TestFailingChannelDoesNotBlockOthers(t *testing.T) {
	n := New(&mockLogger{})
	broken := newCaptureChannel("broken")
	broken.err = errors.New("webhook down")
	ok := newCaptureChannel("ok")
	n.AddChannel(broken)
	n.AddChannel(ok)

	n.Notify(context.Background(), "u1", "Limit order failed", "dead")
	e := receive(t, ok)
	assert.Equal(t, "Limit order failed", e.Title)
}

func TestOrderListenerNotifiesOnlyOnTerminal(t *testing.T) {
	n := New(&mockLogger{})
	ch := newCaptureChannel("capture")
	n.AddChannel(ch)
	listener := n.OrderListener()

	listener("u1", "o-1", core.StatusPending, core.StatusProcessing, nil)
	select {
	case e := <-ch.events:
		t.Fatalf("non-terminal transition must not notify, got %q", e.Title)
	case <-time.After(100 * time.Millisecond):
	}

	listener("u1", "o-1", core.StatusProcessing, core.StatusSettled,
		&core.OrderSnapshot{ID: "o-1", Status: core.StatusSettled, SettleHash: "0xabc"})
	e := receive(t, ch)
	assert.Equal(t, "Swap settled", e.Title)
	require.Contains(t, e.Message, "0xabc")
}

func TestEmptyCredentialChannelsAreNoOps(t *testing.T) {
	tg := NewTelegramChannel("", "")
	assert.NoError(t, tg.Send(context.Background(), Event{Title: "x"}))

	sl := NewSlackChannel("")
	assert.NoError(t, sl.Send(context.Background(), Event{Title: "x"}))
}

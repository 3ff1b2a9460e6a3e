package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullTransport is open but never accepts a frame.
type fullTransport struct {
	mu     sync.Mutex
	closed bool
}

func (f *fullTransport) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fullTransport) Send([]byte) bool { return false }

func (f *fullTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func newTestManager() *Manager {
	return NewManager(NewClientManager(), zerolog.Nop())
}

func TestManager_ActiveUsersDedup(t *testing.T) {
	m := newTestManager()
	c := m.Clients()
	c.Put("1", &fakeTransport{}, Presence{UserID: "JD", Email: "jane@x.com"})
	c.Put("2", &fakeTransport{}, Presence{})
	c.Put("3", &fakeTransport{}, Presence{UserID: "BS", Email: "bob@x.com"})
	c.Put("4", &fakeTransport{}, Presence{UserID: "J", Email: "jane@x.com"})

	users := m.ActiveUsers()
	assert.Equal(t, []Presence{
		{UserID: "J", Email: "jane@x.com"},
		{UserID: "BS", Email: "bob@x.com"},
	}, users)
}

func TestManager_ActiveUsersEmptyIsNotNil(t *testing.T) {
	m := newTestManager()
	users := m.ActiveUsers()
	assert.NotNil(t, users)
	assert.Empty(t, users)
}

func TestManager_BroadcastAll(t *testing.T) {
	m := newTestManager()
	a, b, stale := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	stale.Close()
	m.Clients().Put("a", a, Presence{})
	m.Clients().Put("b", b, Presence{})
	m.Clients().Put("stale", stale, Presence{})

	m.BroadcastAll(Frame{Type: "ping"}, "")
	m.BroadcastAll(Frame{Type: "pong"}, "a")

	assert.Len(t, a.received(t), 1)
	assert.Len(t, b.received(t), 2)
	assert.Empty(t, stale.received(t))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.metrics.deliveries.WithLabelValues("stale")))
}

func TestManager_SendToAddressReachesEveryMatch(t *testing.T) {
	m := newTestManager()
	a1, a2, b := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	m.Clients().Put("a1", a1, Presence{UserID: "A", Email: "a@x.com"})
	m.Clients().Put("a2", a2, Presence{UserID: "A", Email: "a@x.com"})
	m.Clients().Put("b", b, Presence{UserID: "B", Email: "b@x.com"})

	m.SendToAddress("a@x.com", Frame{Type: TypeChat, Text: "hi"})

	assert.Len(t, a1.received(t), 1)
	assert.Len(t, a2.received(t), 1)
	assert.Empty(t, b.received(t))
}

func TestManager_EvictsSlowConsumer(t *testing.T) {
	m := newTestManager()
	slow := &fullTransport{}
	ok := &fakeTransport{}
	m.Clients().Put("slow", slow, Presence{})
	m.Clients().Put("ok", ok, Presence{})

	m.BroadcastAll(Frame{Type: "ping"}, "")

	assert.False(t, slow.Open())
	assert.Len(t, ok.received(t), 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.deliveries.WithLabelValues("evicted")))
}

func TestManager_Route(t *testing.T) {
	m := newTestManager()
	a, b, c := &fakeTransport{}, &fakeTransport{}, &fakeTransport{}
	m.Clients().Put("a", a, Presence{UserID: "A", Email: "a@x.com"})
	m.Clients().Put("b", b, Presence{UserID: "B", Email: "b@x.com"})
	m.Clients().Put("c", c, Presence{UserID: "C", Email: "c@x.com"})

	m.Route(Frame{Type: TypeChat, Text: "dm", Email: "a@x.com", Recipient: "B", RecipientEmail: "b@x.com"})
	assert.Len(t, a.received(t), 1)
	assert.Len(t, b.received(t), 1)
	assert.Empty(t, c.received(t))

	a.reset()
	m.Route(Frame{Type: TypeChat, Text: "note to self", Email: "a@x.com", Recipient: "A", RecipientEmail: "a@x.com"})
	assert.Len(t, a.received(t), 1, "messages to yourself arrive once")

	a.reset()
	b.reset()
	m.Route(Frame{Type: TypeChat, Text: "half target", Email: "a@x.com", RecipientEmail: "b@x.com"})
	assert.Len(t, a.received(t), 1)
	assert.Len(t, b.received(t), 1)
	assert.Len(t, c.received(t), 1, "frames need both target fields to be direct")
}

func TestManager_Snapshot(t *testing.T) {
	m := newTestManager()
	m.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	m.Clients().Put("1", &fakeTransport{}, Presence{UserID: "A", Email: "a@x.com"})
	m.Clients().Put("2", &fakeTransport{}, Presence{UserID: "A", Email: "a@x.com"})
	m.Clients().Put("3", &fakeTransport{}, Presence{})

	s := m.Snapshot()
	assert.Equal(t, 3, s.Connections)
	assert.Equal(t, 1, s.ActiveUsers)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), s.Timestamp)
}

func TestManager_Register(t *testing.T) {
	m := newTestManager()
	m.Clients().Put("1", &fakeTransport{}, Presence{UserID: "A", Email: "a@x.com"})

	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "collectors register once")

	n, err := testutil.GatherAndCount(reg, "tutorchat_active_users")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

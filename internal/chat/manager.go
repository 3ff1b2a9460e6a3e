// Routing and fan-out. Sends happen outside the registry lock: every
// delivery works on a snapshot and a Transport.Send never blocks.

package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Manager routes frames to registered connections.
type Manager struct {
	clients *ClientManager
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewManager(clients *ClientManager, logger zerolog.Logger) *Manager {
	return &Manager{
		clients: clients,
		metrics: NewMetrics(),
		log:     logger,
		now:     time.Now,
	}
}

func (m *Manager) Clients() *ClientManager {
	return m.clients
}

// Register adds the relay metrics to r.
func (m *Manager) Register(r prometheus.Registerer) error {
	activeUsers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tutorchat",
		Name:      "active_users",
		Help:      "Distinct joined addresses.",
	}, func() float64 { return float64(len(m.ActiveUsers())) })

	for _, c := range append(m.metrics.collectors(), activeUsers) {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ActiveUsers builds the deduplicated presence view. An address keeps the
// position where it was first seen and the value registered last.
func (m *Manager) ActiveUsers() []Presence {
	users := []Presence{}
	seen := make(map[string]int)
	m.clients.ForEach(func(e Entry) {
		if !e.Presence.Joined() {
			return
		}
		if i, ok := seen[e.Presence.Email]; ok {
			users[i] = e.Presence
			return
		}
		seen[e.Presence.Email] = len(users)
		users = append(users, e.Presence)
	})
	return users
}

// BroadcastAll delivers f to every open connection except the one with handle exclude.
func (m *Manager) BroadcastAll(f Frame, exclude string) {
	msg, ok := m.encode(f)
	if !ok {
		return
	}
	m.clients.ForEach(func(e Entry) {
		if e.Handle != exclude {
			m.deliver(e, msg)
		}
	})
}

// SendToAddress delivers f to every open connection registered under email.
func (m *Manager) SendToAddress(email string, f Frame) {
	if msg, ok := m.encode(f); ok {
		m.sendToAddress(email, msg)
	}
}

func (m *Manager) sendToAddress(email string, msg []byte) {
	m.clients.ForEach(func(e Entry) {
		if e.Presence.Email == email {
			m.deliver(e, msg)
		}
	})
}

// SendTo delivers f privately to one connection, registered or not.
func (m *Manager) SendTo(handle string, t Transport, f Frame) {
	if msg, ok := m.encode(f); ok {
		m.deliver(Entry{Handle: handle, Transport: t}, msg)
	}
}

// Echo delivers f back to its sender and to every other connection.
func (m *Manager) Echo(handle string, t Transport, f Frame) {
	msg, ok := m.encode(f)
	if !ok {
		return
	}
	m.deliver(Entry{Handle: handle, Transport: t}, msg)
	m.clients.ForEach(func(e Entry) {
		if e.Handle != handle {
			m.deliver(e, msg)
		}
	})
}

// Route delivers a chat frame. Targeted frames reach the recipient's
// connections and the sender's own connections; the rest go to everyone,
// the sender included.
func (m *Manager) Route(f Frame) {
	if !f.Targeted() {
		m.BroadcastAll(f, "")
		return
	}
	msg, ok := m.encode(f)
	if !ok {
		return
	}
	m.sendToAddress(f.RecipientEmail, msg)
	if f.Email != "" && f.Email != f.RecipientEmail {
		m.sendToAddress(f.Email, msg)
	}
}

func (m *Manager) encode(f Frame) ([]byte, bool) {
	msg, err := json.Marshal(f)
	if err != nil {
		m.log.Error().Err(err).Str("type", f.Type).Msg("encode frame")
		return nil, false
	}
	return msg, true
}

func (m *Manager) deliver(e Entry, msg []byte) {
	if !e.Transport.Open() {
		m.metrics.deliveries.WithLabelValues("stale").Inc()
		return
	}
	if e.Transport.Send(msg) {
		m.metrics.deliveries.WithLabelValues("sent").Inc()
		return
	}
	if e.Transport.Open() {
		// Outbound buffer is full; drop the slow consumer.
		m.log.Warn().Str("handle", e.Handle).Msg("send buffer full, closing connection")
		m.metrics.deliveries.WithLabelValues("evicted").Inc()
		e.Transport.Close()
		return
	}
	m.metrics.deliveries.WithLabelValues("stale").Inc()
}

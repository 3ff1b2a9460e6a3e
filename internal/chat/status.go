package chat

import "time"

// Status is a point-in-time view of the relay for health checks.
type Status struct {
	Connections int       `json:"connections"`
	ActiveUsers int       `json:"activeUsers"`
	Timestamp   time.Time `json:"timestamp"`
}

// Snapshot only reads the registry and is safe to call at any time.
func (m *Manager) Snapshot() Status {
	return Status{
		Connections: m.clients.Size(),
		ActiveUsers: len(m.ActiveUsers()),
		Timestamp:   m.now().UTC(),
	}
}

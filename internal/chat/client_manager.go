package chat

import "sync"

// Presence is what the relay knows about the user behind a connection.
// Both fields are empty until the connection joins.
type Presence struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

func (p Presence) Joined() bool {
	return p.Email != ""
}

// Transport is the outbound half of one connection.
type Transport interface {
	// Open reports whether frames can still be delivered.
	Open() bool
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg []byte) bool
	Close()
}

// Entry is one registered connection.
type Entry struct {
	Handle    string
	Transport Transport
	Presence  Presence
}

// ClientManager is the connection registry. It maps connection handles to
// presence records and is safe for concurrent use. Traversal follows
// registration order.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[string]Entry
	order   []string

	// pairs and emails count joined entries for O(1) duplicate checks.
	pairs  map[Presence]int
	emails map[string]int
}

func NewClientManager() *ClientManager {
	return &ClientManager{
		clients: make(map[string]Entry),
		pairs:   make(map[Presence]int),
		emails:  make(map[string]int),
	}
}

// Put inserts or replaces the entry for handle. A replaced entry keeps its
// position in traversal order.
func (m *ClientManager) Put(handle string, t Transport, p Presence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(handle, t, p)
}

func (m *ClientManager) put(handle string, t Transport, p Presence) {
	if old, ok := m.clients[handle]; ok {
		m.unindex(old.Presence)
	} else {
		m.order = append(m.order, handle)
	}
	m.clients[handle] = Entry{Handle: handle, Transport: t, Presence: p}
	m.index(p)
}

// Join records p for handle and reports whether another handle already
// holds the same identity and address. The check and the update are atomic.
func (m *ClientManager) Join(handle string, t Transport, p Presence) (duplicate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	others := m.pairs[p]
	if old, ok := m.clients[handle]; ok && old.Presence == p && p.Joined() {
		others--
	}
	m.put(handle, t, p)
	return others > 0
}

// Remove deletes the entry for handle. Unknown handles are ignored.
func (m *ClientManager) Remove(handle string) (Entry, bool) {
	e, ok, _ := m.Vacate(handle)
	return e, ok
}

// Vacate removes handle and also reports whether it was the last entry
// holding its address.
func (m *ClientManager) Vacate(handle string) (e Entry, ok bool, last bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok = m.clients[handle]
	if !ok {
		return Entry{}, false, false
	}
	delete(m.clients, handle)
	for i, h := range m.order {
		if h == handle {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.unindex(e.Presence)
	return e, true, e.Presence.Joined() && m.emails[e.Presence.Email] == 0
}

func (m *ClientManager) Get(handle string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.clients[handle]
	return e, ok
}

// Snapshot copies every entry in traversal order.
func (m *ClientManager) Snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, 0, len(m.order))
	for _, h := range m.order {
		entries = append(entries, m.clients[h])
	}
	return entries
}

// ForEach visits a snapshot of the registry. The lock is not held while
// visit runs, so it may send or mutate the registry.
func (m *ClientManager) ForEach(visit func(Entry)) {
	for _, e := range m.Snapshot() {
		visit(e)
	}
}

func (m *ClientManager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// emailCount returns how many entries currently hold email.
func (m *ClientManager) emailCount(email string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emails[email]
}

func (m *ClientManager) index(p Presence) {
	if !p.Joined() {
		return
	}
	m.pairs[p]++
	m.emails[p.Email]++
}

func (m *ClientManager) unindex(p Presence) {
	if !p.Joined() {
		return
	}
	if m.pairs[p]--; m.pairs[p] <= 0 {
		delete(m.pairs, p)
	}
	if m.emails[p.Email]--; m.emails[p.Email] <= 0 {
		delete(m.emails, p.Email)
	}
}

package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Options tune the per-connection transport.
type Options struct {
	SnapshotDelay  time.Duration
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	// CheckOrigin is passed to the websocket upgrader; nil means same-origin only.
	CheckOrigin func(r *http.Request) bool
}

func DefaultOptions() Options {
	return Options{
		SnapshotDelay:  time.Second,
		SendBuffer:     256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

func (o Options) pingPeriod() time.Duration {
	return o.PongWait * 9 / 10
}

// Handler upgrades HTTP requests to websocket connections and runs a
// Session for each of them. Sessions log through the logger carried by the
// request context.
type Handler struct {
	manager  *Manager
	upgrader websocket.Upgrader
	opts     Options

	// wg counts the read and write goroutine of every accepted connection.
	wg      sync.WaitGroup
	mu      sync.Mutex
	closing bool
	live    map[*Client]struct{}
}

func NewHandler(m *Manager, opts Options) *Handler {
	return &Handler{
		manager:  m,
		upgrader: websocket.Upgrader{CheckOrigin: opts.CheckOrigin},
		opts:     opts,
		live:     make(map[*Client]struct{}),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(2)
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.wg.Add(-2)
		// Upgrade has already replied to the client.
		logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), conn, h.opts)
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		h.wg.Add(-2)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.opts.WriteWait))
		conn.Close()
		return
	}
	h.live[client] = struct{}{}
	h.mu.Unlock()

	session := NewSession(client.id, client, h.manager, *logger, h.opts.SnapshotDelay)
	session.Open()
	go func() {
		defer h.wg.Done()
		client.write()
	}()
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.live, client)
			h.mu.Unlock()
		}()
		client.read(session)
	}()
}

// Shutdown refuses new upgrades, closes every live connection and waits for
// their goroutines to finish or for ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	for c := range h.live {
		c.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

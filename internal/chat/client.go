// client.go
// The read goroutine feeds frames from the browser into the connection's Session.
// The write goroutine drains the client's send channel back to the browser.
// Separating read/write avoids head-of-line blocking when a browser is slow.

package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single websocket connection. It implements Transport.
type Client struct {
	id     string
	socket *websocket.Conn
	send   chan []byte
	opts   Options

	mu     sync.Mutex
	closed bool
}

func newClient(id string, socket *websocket.Conn, opts Options) *Client {
	return &Client{
		id:     id,
		socket: socket,
		send:   make(chan []byte, opts.SendBuffer),
		opts:   opts,
	}
}

func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send queues msg for the write goroutine. It fails when the client is
// closed or its buffer is full.
func (c *Client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write goroutine, which then closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) read(s *Session) {
	defer func() {
		s.Close()
		c.socket.Close()
	}()

	c.socket.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn().Err(err).Msg("connection error")
			}
			return
		}
		s.HandleFrame(message)
	}
}

func (c *Client) write() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is where a connection is in its lifecycle.
type State int

const (
	StateAnonymous State = iota
	StateJoined
	// StateLeft means the client sent leave but kept the socket open.
	StateLeft
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrMissingEmail  = errors.New("join without email")
	ErrAlreadyJoined = errors.New("connection already joined")
	ErrServerOnly    = errors.New("frame type is sent by the server only")
)

// Session owns the protocol state of one connection. HandleFrame and Close
// must be called from the connection's read goroutine, which keeps frames
// of one connection in order.
type Session struct {
	handle    string
	transport Transport
	manager   *Manager
	log       zerolog.Logger

	snapshotDelay time.Duration
	timer         *time.Timer

	state    State
	presence Presence
}

func NewSession(handle string, t Transport, m *Manager, logger zerolog.Logger, snapshotDelay time.Duration) *Session {
	return &Session{
		handle:        handle,
		transport:     t,
		manager:       m,
		log:           logger.With().Str("handle", handle).Logger(),
		snapshotDelay: snapshotDelay,
	}
}

func (s *Session) Handle() string {
	return s.handle
}

func (s *Session) State() State {
	return s.state
}

// Open registers the connection anonymously and schedules the first presence snapshot.
func (s *Session) Open() {
	s.manager.clients.Put(s.handle, s.transport, Presence{})
	s.manager.metrics.connections.Inc()
	s.timer = time.AfterFunc(s.snapshotDelay, s.sendSnapshot)
	s.log.Info().Msg("client connected")
}

func (s *Session) sendSnapshot() {
	s.manager.SendTo(s.handle, s.transport, newUserListFrame(s.manager.ActiveUsers(), s.manager.now()))
}

// HandleFrame processes one inbound payload. Malformed payloads are logged
// and dropped without closing the connection.
func (s *Session) HandleFrame(raw []byte) {
	if s.state == StateClosed {
		return
	}
	f, err := ParseFrame(raw)
	if err != nil {
		s.drop("malformed", err)
		return
	}
	s.manager.metrics.framesReceived.WithLabelValues(frameType(f.Type)).Inc()
	s.log.Debug().Str("type", f.Type).Msg("frame received")

	f.stampTime(s.manager.now())
	switch f.Type {
	case TypeJoin:
		err = s.join(f)
	case TypeLeave:
		s.leave(f)
	case TypeChat:
		s.chat(f)
	case TypeSystem, TypeUserList:
		err = fmt.Errorf("%w: %s", ErrServerOnly, f.Type)
	default:
		s.manager.Echo(s.handle, s.transport, f)
	}
	if err != nil {
		s.drop("rejected", err)
	}
}

func (s *Session) drop(reason string, err error) {
	s.manager.metrics.framesDropped.WithLabelValues(reason).Inc()
	s.log.Warn().Err(err).Str("reason", reason).Msg("dropping frame")
}

func (s *Session) join(f Frame) error {
	if f.Email == "" {
		return ErrMissingEmail
	}
	if s.state == StateJoined {
		return ErrAlreadyJoined
	}

	p := Presence{UserID: DeriveIdentity(f.Email), Email: f.Email}
	duplicate := s.manager.clients.Join(s.handle, s.transport, p)
	s.presence = p
	s.state = StateJoined
	s.log = s.log.With().Str("email", p.Email).Logger()
	s.log.Info().Bool("duplicate", duplicate).Msg("user joined")

	if !duplicate {
		f.UserID = p.UserID
		f.Users = s.manager.ActiveUsers()
		s.manager.BroadcastAll(f, "")
	}

	now := s.manager.now()
	welcome := fmt.Sprintf("Welcome, %s! You are now connected to the chat.", p.UserID)
	s.manager.SendTo(s.handle, s.transport, newSystemFrame(welcome, now))
	s.manager.BroadcastAll(newUserListFrame(s.manager.ActiveUsers(), now), "")
	return nil
}

func (s *Session) leave(f Frame) {
	s.manager.clients.Remove(s.handle)
	s.presence = Presence{}
	s.state = StateLeft
	s.log.Info().Msg("user left")

	s.manager.BroadcastAll(newUserListFrame(s.manager.ActiveUsers(), s.manager.now()), "")
	s.manager.BroadcastAll(f, "")
}

func (s *Session) chat(f Frame) {
	switch {
	case s.state == StateJoined:
		f.UserID = s.presence.UserID
		f.Email = s.presence.Email
	case f.Email != "":
		f.UserID = DeriveIdentity(f.Email)
	}
	if !f.Has("messageId") {
		delete(f.extra, "messageId")
		f.MessageID = newMessageID(f.UserID, s.manager.now())
	}
	s.manager.Route(f)
}

func newMessageID(identity string, now time.Time) string {
	if identity == "" {
		identity = DefaultIdentity
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%d-%s", identity, now.UnixMilli(), suffix)
}

// Close runs the disconnect path. It is safe to call more than once.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
	}
	s.transport.Close()
	s.manager.metrics.connections.Dec()

	e, _, last := s.manager.clients.Vacate(s.handle)
	now := s.manager.now()
	if last {
		s.manager.BroadcastAll(newLeaveFrame(e.Presence, s.manager.ActiveUsers(), now), "")
	}
	s.manager.BroadcastAll(newUserListFrame(s.manager.ActiveUsers(), now), "")
	s.log.Info().Msg("client disconnected")
}

package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// Session is one authenticated live connection. It belongs to exactly one
// user for its whole lifetime and never outlives its underlying connection.
// Writes go through a buffered channel drained by a dedicated goroutine so
// that a stalled peer never blocks the caller.
type Session struct {
	id       uuid.UUID
	userID   string
	conn     *websocket.Conn
	clock    clockwork.Clock
	sendCh   chan []byte
	doneCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSession wraps an already-admitted connection. The userID is fixed at
// handshake time and immutable afterwards.
func NewSession(userID string, conn *websocket.Conn, clock clockwork.Clock) *Session {
	s := &Session{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		clock:  clock,
		sendCh: make(chan []byte, messageBufferSize),
		doneCh: make(chan struct{}),
	}
	s.configurePongHandler()
	s.wg.Add(1)
	go s.run()
	return s
}

// ID returns the session's correlation identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// UserID returns the identity the session was admitted with.
func (s *Session) UserID() string {
	return s.userID
}

// Send queues a message for delivery without blocking. It returns false when
// the session's buffer is full; the caller is expected to evict the session.
func (s *Session) Send(msg []byte) bool {
	select {
	case s.sendCh <- msg:
		return true
	case <-s.doneCh:
		return false
	default:
		return false
	}
}

func (s *Session) run() {
	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.wg.Done()

	for {
		select {
		case msg, ok := <-s.sendCh:
			if !ok {
				return
			}
			s.updateWriteDeadline()
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.Chan():
			s.updateWriteDeadline()
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.doneCh:
			return
		}
	}
}

func (s *Session) stop() {
	s.stopOnce.Do(func() {
		close(s.doneCh)
		_ = s.conn.Close()
	})
	s.wg.Wait()
}

// Close sends a WebSocket close frame with the given code and reason, then
// closes the connection. Safe to call from any teardown path, any number of
// times.
func (s *Session) Close(code int, reason string) {
	s.stopOnce.Do(func() {
		close(s.doneCh)

		// Wait for the writer goroutine to exit before writing the close
		// frame to avoid concurrent writes on the connection.
		s.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(code, reason)
		s.updateWriteDeadline()
		_ = s.conn.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = s.conn.Close()
	})
}

func (s *Session) configurePongHandler() {
	s.updateReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.updateReadDeadline()
		return nil
	})
}

func (s *Session) updateWriteDeadline() {
	_ = s.conn.SetWriteDeadline(s.clock.Now().Add(writeDeadline))
}

func (s *Session) updateReadDeadline() {
	_ = s.conn.SetReadDeadline(s.clock.Now().Add(pongDeadline))
}

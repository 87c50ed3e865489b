package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is the transport a session writes to. *websocket.Conn satisfies
// it via the wrapper in ws.go; tests use in-memory fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one downstream subscriber: a bounded outbound queue
// drained by a dedicated write pump, so one slow transport never
// delays the publish path or other subscribers.
type Session struct {
	id     uuid.UUID
	conn   Conn
	logger *slog.Logger

	send chan Envelope
	done chan struct{}

	closeOnce sync.Once
}

func newSession(conn Conn, queueSize int, logger *slog.Logger) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Session{
		id:     uuid.New(),
		conn:   conn,
		logger: logger,
		send:   make(chan Envelope, queueSize),
		done:   make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id.String()
}

// Run drains the outbound queue onto the transport until the session
// closes or a write fails. Call it on its own goroutine; it returns the
// write error, if any, so the transport layer can trigger Detach.
func (s *Session) Run() error {
	for {
		select {
		case <-s.done:
			return nil
		case msg := <-s.send:
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("subscriber write failed", "session", s.ID(), "error", err)
				return err
			}
		}
	}
}

// enqueue queues a message without blocking. Returns false when the
// queue is full or the session is closed.
func (s *Session) enqueue(msg Envelope) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Close releases the session and its transport. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

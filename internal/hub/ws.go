package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the session Conn interface,
// serializing writes and bounding them with a deadline.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

// Handler returns the /ws upgrade handler. Each accepted connection
// becomes a session: attach, pump until the peer goes away, detach.
func Handler(h *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}

		session := h.NewSession(&wsConn{conn: conn})
		h.Attach(session)

		// Write pump
		go func() {
			session.Run()
			h.Detach(session)
		}()

		// Read loop exists only to notice the peer closing; inbound
		// payloads are ignored.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.Detach(session)
					return
				}
			}
		}()
	})
}

// Package hub decouples the single upstream quote stream from any
// number of independently-lived downstream subscribers. The hub owns
// the latest-quote cache and the subscriber set behind one mutex; all
// enqueues happen under that mutex and are non-blocking, so a freshly
// attached session always sees its snapshot before any update, updates
// for a symbol arrive in publish order, and a slow subscriber only ever
// loses its own frames.
package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/sameerk/feedrelay/internal/model"
)

// Message types on the downstream protocol.
const (
	TypeSnapshot = "SNAPSHOT"
	TypeUpdate   = "UPDATE"
)

// Envelope is the downstream wire frame.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Stats is a snapshot of hub health.
type Stats struct {
	Subscribers    int
	CachedSymbols  int
	Published      int64
	DroppedUpdates int64
}

// Hub maintains the subscriber set and the latest-quote cache.
type Hub struct {
	logger    *slog.Logger
	queueSize int

	mu       sync.Mutex
	sessions map[*Session]struct{}
	latest   map[string]model.QuoteRecord

	published int64
	dropped   int64
}

// New creates an empty hub. queueSize bounds each subscriber's outbound
// queue.
func New(queueSize int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:    logger,
		queueSize: queueSize,
		sessions:  make(map[*Session]struct{}),
		latest:    make(map[string]model.QuoteRecord),
	}
}

// Attach registers a session and queues the snapshot of all known
// quotes as its first message. The session's write pump must already be
// running; delivery is queued, not awaited.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make([]model.QuoteRecord, 0, len(h.latest))
	for _, rec := range h.latest {
		snapshot = append(snapshot, rec)
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Symbol < snapshot[j].Symbol })

	h.sessions[s] = struct{}{}

	if !s.enqueue(Envelope{Type: TypeSnapshot, Data: snapshot}) {
		h.logger.Warn("snapshot dropped on attach, queue too small",
			"session", s.ID(),
			"symbols", len(snapshot),
		)
	}

	h.logger.Info("subscriber attached",
		"session", s.ID(),
		"subscribers", len(h.sessions),
		"snapshot_symbols", len(snapshot),
	)
}

// Publish records the quote in the cache and queues an update to every
// subscriber. Sessions whose queue is full lose this update; publish
// never blocks on a slow consumer.
func (h *Hub) Publish(rec model.QuoteRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[rec.Symbol] = rec
	h.published++

	update := Envelope{Type: TypeUpdate, Data: rec}
	for s := range h.sessions {
		if !s.enqueue(update) {
			h.dropped++
			h.logger.Debug("update dropped for slow subscriber",
				"session", s.ID(),
				"symbol", rec.Symbol,
			)
		}
	}
}

// Detach removes and closes a session. Detaching a session that is
// already gone is a no-op.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	_, present := h.sessions[s]
	if present {
		delete(h.sessions, s)
	}
	count := len(h.sessions)
	h.mu.Unlock()

	if !present {
		return
	}

	s.Close()
	h.logger.Info("subscriber detached", "session", s.ID(), "subscribers", count)
}

// Close detaches and closes every session, releasing their queues and
// transports. Used on process shutdown; the hub remains usable for
// cache reads afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[*Session]struct{})
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	if len(sessions) > 0 {
		h.logger.Info("all subscribers closed", "count", len(sessions))
	}
}

// Snapshot returns the latest known quote for every symbol, ordered by
// symbol. Serves the read API without touching the store.
func (h *Hub) Snapshot() []model.QuoteRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.QuoteRecord, 0, len(h.latest))
	for _, rec := range h.latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Stats returns hub counters.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Subscribers:    len(h.sessions),
		CachedSymbols:  len(h.latest),
		Published:      h.published,
		DroppedUpdates: h.dropped,
	}
}

// NewSession creates a session bound to this hub's queue size.
func (h *Hub) NewSession(conn Conn) *Session {
	return newSession(conn, h.queueSize, h.logger)
}

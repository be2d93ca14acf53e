// Package events streams session lifecycle events to websocket
// subscribers. One hub serves the whole process; subscribers attach to a
// single session id.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event types published by the core.
const (
	SessionCreated    = "session.created"
	CommandExecuted   = "command.executed"
	SessionTerminated = "session.terminated"
)

// Event is one lifecycle notification.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn *websocket.Conn
	ch   chan Event
}

// Hub fans session events out to websocket subscribers. A nil *Hub is
// valid and drops everything, so the registry can run without one in tests.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		subs: make(map[string]map[*subscriber]struct{}),
		log:  log,
	}
}

// Publish delivers an event to every subscriber of the session. Slow
// subscribers are skipped rather than blocking the caller.
func (h *Hub) Publish(evt Event) {
	if h == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[evt.SessionID] {
		select {
		case sub.ch <- evt:
		default:
			h.log.Warn("event buffer full, dropping event",
				zap.String("session_id", evt.SessionID),
				zap.String("type", evt.Type))
		}
	}
}

// Serve upgrades the request and streams the session's events until the
// client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := &subscriber{conn: conn, ch: make(chan Event, 16)}
	h.attach(sessionID, sub)
	defer h.detach(sessionID, sub)

	h.log.Info("event subscriber connected", zap.String("session_id", sessionID))

	// Read pump exists only to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.log.Info("event subscriber disconnected", zap.String("session_id", sessionID))
			return
		case evt := <-sub.ch:
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Warn("failed to write event", zap.String("session_id", sessionID), zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) attach(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
}

func (h *Hub) detach(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[sessionID], sub)
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
}

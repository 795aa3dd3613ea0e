package devstore

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tillsync/tillsync/internal/models"
)

// feed wire messages, shared shape with internal/feed
type subscribeMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

type feedMessage struct {
	Record  models.Record `json:"record,omitempty"`
	Type    string        `json:"type"`
	Table   string        `json:"table,omitempty"`
	Event   string        `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

// hub fans change events out to websocket subscribers, per table
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mu       sync.Mutex
	conns    map[*conn]bool
}

// conn is one subscriber connection; writes are serialized through mu
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	tables map[string]bool
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		conns:  make(map[*conn]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// serveWS upgrades the connection and handles subscribe messages until the
// client disconnects. Every subscribe is answered with an ack so clients
// can distinguish an established feed from a silent one.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Feed upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, tables: make(map[string]bool)}

	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		ws.Close()
	}()

	for {
		var msg subscribeMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Action != "subscribe" || msg.Table == "" {
			c.send(h.logger, feedMessage{Type: "error", Message: "expected subscribe with table"})
			continue
		}

		c.mu.Lock()
		c.tables[msg.Table] = true
		c.mu.Unlock()

		c.send(h.logger, feedMessage{Type: "ack", Table: msg.Table})
	}
}

// broadcast delivers one change event to every connection subscribed to
// the table. A failed write only affects that subscriber.
func (h *hub) broadcast(event, table string, record models.Record) {
	msg := feedMessage{
		Type:   "change",
		Event:  event,
		Table:  table,
		Record: record,
	}

	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		subscribed := c.tables[table]
		c.mu.Unlock()

		if subscribed {
			c.send(h.logger, msg)
		}
	}
}

func (c *conn) send(logger *slog.Logger, msg feedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteJSON(msg); err != nil {
		logger.Debug("Feed write failed", "error", err)
	}
}

// Package feed subscribes to the remote store's change feed over a
// websocket. Each subscribed table delivers INSERT/UPDATE/DELETE
// notifications; subscription acknowledgment and failure are reported as
// distinct notifications so the orchestrator can track feed health.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tillsync/tillsync/internal/models"
)

// Event is one change-feed notification for a subscribed table
type Event struct {
	Record models.Record `json:"record"`
	Type   string        `json:"event"` // INSERT, UPDATE or DELETE
	Table  string        `json:"table"`
}

// NotificationKind classifies what the subscriber is reporting
type NotificationKind int

const (
	// KindConnected means the subscription handshake was acknowledged
	KindConnected NotificationKind = iota
	// KindChange carries one remote change event
	KindChange
	// KindError means the subscription failed or the connection dropped
	KindError
)

// Notification is what the subscriber emits to its consumer
type Notification struct {
	Err   error
	Event Event
	Kind  NotificationKind
}

// wire message shapes shared with the feed server
type clientMessage struct {
	Action string `json:"action"`
	Table  string `json:"table"`
}

type serverMessage struct {
	Record  models.Record `json:"record,omitempty"`
	Type    string        `json:"type"`
	Table   string        `json:"table,omitempty"`
	Event   string        `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
}

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
)

// Subscriber maintains one change-feed connection
type Subscriber struct {
	logger        *slog.Logger
	notifications chan Notification
	url           string
	token         string
	tables        []string
}

// NewSubscriber creates a subscriber for the given websocket URL and
// tables. Nothing connects until Run.
func NewSubscriber(url, token string, tables []string, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		url:           url,
		token:         token,
		tables:        tables,
		logger:        logger,
		notifications: make(chan Notification, 16),
	}
}

// Notifications returns the channel the subscriber reports on
func (s *Subscriber) Notifications() <-chan Notification {
	return s.notifications
}

// Run connects, subscribes every table, and forwards change events until
// the context is canceled or the connection fails. A failure is reported
// as a KindError notification before Run returns; reconnecting is the
// caller's decision.
func (s *Subscriber) Run(ctx context.Context) error {
	// The channel closes with Run so consumers can range over it; a
	// subscriber is single-use and reconnects get a fresh instance
	defer close(s.notifications)

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}

	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		err = fmt.Errorf("feed dial failed: %w", err)
		s.notify(Notification{Kind: KindError, Err: err})
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the context is canceled
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for _, table := range s.tables {
		msg := clientMessage{Action: "subscribe", Table: table}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			err = fmt.Errorf("subscribe %q failed: %w", table, err)
			s.notify(Notification{Kind: KindError, Err: err})
			return err
		}
	}

	acked := 0

	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = fmt.Errorf("feed read failed: %w", err)
			s.notify(Notification{Kind: KindError, Err: err})
			return err
		}

		switch msg.Type {
		case "ack":
			acked++
			s.logger.Debug("Feed subscription acknowledged", "table", msg.Table)
			if acked == len(s.tables) {
				s.notify(Notification{Kind: KindConnected})
			}

		case "error":
			err := fmt.Errorf("feed subscription error: %s", msg.Message)
			s.notify(Notification{Kind: KindError, Err: err})
			return err

		case "change":
			s.notify(Notification{
				Kind: KindChange,
				Event: Event{
					Type:   msg.Event,
					Table:  msg.Table,
					Record: msg.Record,
				},
			})

		default:
			s.logger.Debug("Ignoring unknown feed message", "type", msg.Type)
		}
	}
}

// notify delivers without blocking the read loop; if the consumer lags far
// enough to fill the buffer, change notifications may drop, which is safe:
// they only trigger a sync the periodic timer would run anyway.
func (s *Subscriber) notify(n Notification) {
	select {
	case s.notifications <- n:
	default:
		s.logger.Warn("Dropping feed notification", "kind", n.Kind)
	}
}

// MarshalJSON keeps notification logging readable in debug output
func (k NotificationKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k NotificationKind) String() string {
	switch k {
	case KindConnected:
		return "connected"
	case KindChange:
		return "change"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

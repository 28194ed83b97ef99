package webui

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"codecrew/pkg/proto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		// The server binds locally and auth happens before the upgrade.
		return true
	},
}

// wsEnvelope is the frame shape sent to WebSocket clients.
type wsEnvelope struct {
	Type      string       `json:"type"` // "event", "ack", "error"
	Event     *proto.Event `json:"event,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// wsConn is one client connection. It implements events.Transport so the
// emitter can fan events into the connection; all writes go through the
// outbound channel because gorilla connections allow a single writer.
type wsConn struct {
	conn     *websocket.Conn
	outbound chan wsEnvelope
	done     chan struct{}
}

// Deliver implements events.Transport. Events are dropped when the client
// cannot keep up; the client recovers missed events over /api/sessions/{id}/events.
func (c *wsConn) Deliver(event *proto.Event) error {
	select {
	case c.outbound <- wsEnvelope{Type: "event", Event: event}:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		return errors.New("client send buffer full, event dropped")
	}
}

func (c *wsConn) send(env wsEnvelope) {
	select {
	case c.outbound <- env:
	case <-c.done:
	}
}

// handleWebSocket implements the bidirectional endpoint: commands in,
// events out.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed: %v", err)
		return
	}

	c := &wsConn{
		conn:     conn,
		outbound: make(chan wsEnvelope, 256),
		done:     make(chan struct{}),
	}

	s.emitter.AddTransport(c)
	s.logger.Info("websocket client connected from %s", r.RemoteAddr)

	go c.writeLoop()

	defer func() {
		s.emitter.RemoveTransport(c)
		close(c.done)
		_ = conn.Close()
		s.logger.Info("websocket client disconnected")
	}()

	for {
		var cmd proto.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read error: %v", err)
			}
			return
		}

		sess, err := s.service.HandleCommand(r.Context(), &cmd)
		if err != nil {
			c.send(wsEnvelope{Type: "error", SessionID: cmd.SessionID, Error: err.Error()})
			continue
		}

		ack := wsEnvelope{Type: "ack", SessionID: cmd.SessionID}
		if sess != nil {
			ack.SessionID = sess.ID()
		}
		c.send(ack)
	}
}

// writeLoop drains the outbound channel onto the connection.
func (c *wsConn) writeLoop() {
	for {
		select {
		case env := <-c.outbound:
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

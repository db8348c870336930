package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360studio/draftloop/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// clientMessage is the inbound WebSocket frame. Type is one of ping,
// subscribe_workflow, and client_message.
type clientMessage struct {
	Type       string `json:"type"`
	DocumentID string `json:"document_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// handleWebSocket upgrades the connection and runs the event channel. A
// client subscribes to one document at a time; subscribing again moves the
// subscription. Events flow from the bus through a write pump, and a
// subscriber the bus drops for falling behind sees its channel close and
// the connection end.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	s.logger.Info("websocket connected", "connection_id", connID)

	c := &wsConn{
		server: s,
		conn:   conn,
		connID: connID,
		send:   make(chan events.Event, events.DefaultBufferSize),
		done:   make(chan struct{}),
	}
	go c.writePump()
	c.readLoop()
}

type wsConn struct {
	server *Server
	conn   *websocket.Conn
	connID string
	send   chan events.Event
	done   chan struct{}

	sub     *events.Subscription
	forward chan struct{}
}

// checkWSOrigin accepts same-origin requests and the configured CORS
// origins.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// readLoop handles inbound frames until the connection closes.
func (c *wsConn) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxRequestBody)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read failed", "connection_id", c.connID, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(events.NewError("", "invalid message", ""))
			continue
		}

		switch msg.Type {
		case "ping":
			c.enqueue(events.NewPong(msg.DocumentID))

		case "subscribe_workflow":
			if msg.DocumentID == "" {
				c.enqueue(events.NewError("", "document_id is required", ""))
				continue
			}
			c.subscribe(msg.DocumentID)

		case "client_message":
			c.server.logger.Debug("websocket client message",
				"connection_id", c.connID,
				"message", msg.Message)

		default:
			c.enqueue(events.NewError(msg.DocumentID, "unknown message type: "+msg.Type, ""))
		}
	}
}

// subscribe moves the connection onto a document's event stream.
func (c *wsConn) subscribe(documentID string) {
	c.unsubscribe()

	sub := c.server.deps.Bus.Subscribe(documentID)
	stop := make(chan struct{})
	c.sub = sub
	c.forward = stop

	// Forward bus events into the connection's send queue. The goroutine
	// exits when the subscription closes or the connection resubscribes.
	go func() {
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				select {
				case c.send <- ev:
				case <-c.done:
					return
				case <-stop:
					return
				}
			case <-stop:
				return
			case <-c.done:
				return
			}
		}
	}()

	c.enqueue(events.NewConnectionEstablished(documentID, sub.ID))
	c.server.logger.Debug("websocket subscribed",
		"connection_id", c.connID,
		"document_id", documentID)
}

func (c *wsConn) unsubscribe() {
	if c.forward != nil {
		close(c.forward)
		c.forward = nil
	}
	if c.sub != nil {
		c.server.deps.Bus.Unsubscribe(c.sub)
		c.sub = nil
	}
}

// enqueue queues an event for the write pump, dropping it if the
// connection is already backed up.
func (c *wsConn) enqueue(ev events.Event) {
	select {
	case c.send <- ev:
	default:
	}
}

// writePump serializes all writes to the connection.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.server.logger.Debug("websocket write failed",
					"connection_id", c.connID,
					"error", err)
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) close() {
	c.unsubscribe()
	close(c.done)
	_ = c.conn.Close()
	c.server.logger.Info("websocket disconnected", "connection_id", c.connID)
}

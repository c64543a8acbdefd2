package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/Job-Sync/internal/logger"
)

// Client is one connected websocket peer.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

type clientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// HandleWebSocket upgrades the request and registers the connection under
// connectionID. A second connection with the same id replaces the first.
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, connectionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithConnectionID(connectionID).Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := &Client{
		id:   connectionID,
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
	}
}

// ReadPump handles subscribe and ping frames until the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	log := logger.WithConnectionID(c.id)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(map[string]string{"type": "error", "detail": "invalid message"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.JobID == "" {
				c.reply(map[string]string{"type": "error", "detail": "job_id is required"})
				continue
			}
			c.hub.subscribe(c, msg.JobID)
			log.Debug().Str("job_id", msg.JobID).Msg("Client subscribed to job")
			c.reply(map[string]string{"type": "subscription_confirmed", "job_id": msg.JobID})
		case "ping":
			c.reply(map[string]string{"type": "pong"})
		default:
			c.reply(map[string]string{"type": "error", "detail": "unknown message type"})
		}
	}
}

// WritePump drains the send queue and keeps the connection alive with
// control pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c.id] == c {
		c.trySend(data)
	}
}

// trySend queues a frame without blocking; callers hold the hub lock so
// send cannot be closed underneath.
func (c *Client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		logger.WithConnectionID(c.id).Warn().Msg("Dropping message for slow client")
	}
}

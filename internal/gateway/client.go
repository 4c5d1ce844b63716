package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/relay/internal/event"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 256
)

// client is one websocket connection. It implements room.Session.
type client struct {
	id     string
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, userID int64, logger *zap.Logger) *client {
	id := uuid.NewString()
	return &client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("session_id", id), zap.Int64("user_id", userID)),
	}
}

func (c *client) ID() string { return c.id }

func (c *client) UserID() int64 { return c.userID }

// Send encodes evt and queues it. A full buffer or a closed session drops it.
func (c *client) Send(evt event.Event) bool {
	b, err := event.Encode(evt)
	if err != nil {
		c.logger.Error("failed to encode event", zap.String("event", evt.Name()), zap.Error(err))
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close stops the write pump. Safe to call more than once.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump feeds inbound frames to handle until the connection fails.
func (c *client) readPump(handle func(raw []byte)) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		handle(raw)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. It owns all writes to conn. Closing shutdown ends the session.
func (c *client) writePump(shutdown <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-shutdown:
			c.close()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

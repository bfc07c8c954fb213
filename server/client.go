package server

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// enqueue hands a message to the write pump, skipping it if the client is
// slow or already gone
func (c *Client) enqueue(msg []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.feed.log.Debug("Client buffer full, skipping snapshot", zap.String("client", c.id))
	}
}

// readPump drains incoming messages so pongs and close frames are handled
func (c *Client) readPump() {
	defer func() {
		c.feed.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(WebSocketReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(WebSocketReadDeadline))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.feed.log.Debug("WebSocket error", zap.String("client", c.id), zap.Error(err))
			}
			break
		}
	}
}

// writePump sends queued snapshots and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.feed.log.Debug("Write error", zap.String("client", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WebSocketWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

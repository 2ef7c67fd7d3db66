package plugin

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scpdiscord/scpdiscord/pkg/bus"
	"github.com/scpdiscord/scpdiscord/pkg/logger"
	"github.com/scpdiscord/scpdiscord/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20 // 1MB
	sendBuffer = 256
)

// conn is one plugin connection. done is closed exactly once, by close.
type conn struct {
	id        string
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn) *conn {
	return &conn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// readPump publishes every well-formed frame to the bus until the
// connection fails or is closed.
func (c *conn) readPump(b bus.Publisher) {
	defer c.close()

	c.ws.SetReadLimit(maxMsgSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.InfoCF("plugin", "Plugin connection lost", map[string]any{
					"conn_id": c.id,
					"error":   err.Error(),
				})
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			logger.WarnCF("plugin", "Ignoring malformed frame from plugin", map[string]any{
				"conn_id": c.id,
				"size":    len(data),
			})
			continue
		}

		b.PublishInbound(bus.InboundMessage{Source: c.id, Envelope: env})
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.WarnCF("plugin", "Failed to write to plugin", map[string]any{
					"conn_id": c.id,
					"error":   err.Error(),
				})
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

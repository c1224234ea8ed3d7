package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) close() {
	close(c.send)
}

// handleWS upgrades the connection and streams round statistics.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}

	g.clientsMu.Lock()
	g.clients[client] = true
	g.clientsMu.Unlock()

	go g.writePump(client)
	go g.readPump(client)
}

func (g *Gateway) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			g.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump only watches for the client going away.
func (g *Gateway) readPump(c *wsClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			g.drop(c)
			return
		}
	}
}

func (g *Gateway) drop(c *wsClient) {
	g.clientsMu.Lock()
	if g.clients[c] {
		delete(g.clients, c)
		close(c.send)
	}
	g.clientsMu.Unlock()
}

// broadcast sends a stats payload to every connected client. Slow clients
// are skipped, not waited for.
func (g *Gateway) broadcast(v interface{}) {
	g.clientsMu.RLock()
	if len(g.clients) == 0 {
		g.clientsMu.RUnlock()
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		g.clientsMu.RUnlock()
		g.logger.Warn("failed to marshal stats broadcast", "error", err)
		return
	}
	for c := range g.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
	g.clientsMu.RUnlock()
}

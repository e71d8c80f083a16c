package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/slatehq/slate/errors"
)

// WebSocket timeout constants following Gorilla best practices
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4 * 1024

	// clientSendBuffer is the per-client frame backlog. A client that falls
	// this far behind is dropped.
	clientSendBuffer = 256
)

// Client is one WebSocket connection. The stream is one-way: the server
// pushes frames, clients drive changes through the HTTP API.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	send      chan interface{}
	id        string
	closeOnce sync.Once
}

// handleWebSocket upgrades the connection and starts the pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.getState() != ServerStateRunning {
		writeError(w, errors.ErrShuttingDown)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan interface{}, clientSendBuffer),
		id:     uuid.NewString(),
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// checkOrigin validates the Origin header against the configured allowlist.
// No Origin header (non-browser clients) is accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// readPump drains the connection. Clients send nothing meaningful; reading
// keeps control frames flowing and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.logger.Warnw("WebSocket read error",
					"client_id", c.id,
					"error", err)
			}
			return
		}
	}
}

// writePump writes frames and pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.server.ctx.Done():
			return
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.server.logger.Debugw("Frame write error",
					"client_id", c.id,
					"error", err)
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

// close closes the send channel exactly once.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

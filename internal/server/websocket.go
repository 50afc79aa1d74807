package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

func (s *PreviewServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.options.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	select {
	case s.register <- client:
	case <-time.After(writeWait):
		conn.Close(websocket.StatusTryAgainLater, "server not accepting clients")
		return
	}

	go client.writePump()
	client.readPump()
}

func (s *PreviewServer) runWebSocketHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-s.register:
			s.clientsMutex.Lock()
			s.clients[client] = true
			clientCount := len(s.clients)
			s.clientsMutex.Unlock()
			s.logger.Debug(ctx, "Client connected", "clients", clientCount)

		case client := <-s.unregister:
			s.removeClient(client)

		case message := <-s.broadcast:
			s.clientsMutex.RLock()
			var failedClients []*Client
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, mark for removal
					failedClients = append(failedClients, client)
				}
			}
			s.clientsMutex.RUnlock()

			for _, client := range failedClients {
				s.removeClient(client)
			}
		}
	}
}

func (s *PreviewServer) removeClient(client *Client) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	if _, ok := s.clients[client]; !ok {
		return
	}
	delete(s.clients, client)
	close(client.send)
	client.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debug(context.Background(), "Client disconnected", "clients", len(s.clients))
}

// readPump discards incoming messages until the connection fails
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-time.After(writeWait):
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				c.server.logger.Debug(context.Background(), "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

// writePump pumps messages to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := context.Background()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

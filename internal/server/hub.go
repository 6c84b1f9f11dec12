package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexaffect/internal/avatar"
	"github.com/normanking/cortexaffect/internal/metrics"
)

const (
	// writeWait is the timeout for writing to a WebSocket.
	writeWait = 10 * time.Second

	// pongWait is the timeout for pong responses.
	pongWait = 60 * time.Second

	// pingPeriod is how often to send ping frames.
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer is the per-client command backlog.
	sendBuffer = 32
)

// Hub fans avatar playback commands out to connected renderers. It
// implements avatar.Player and never blocks the caller.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte
	closed  bool

	wg sync.WaitGroup
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Play broadcasts cmd. A renderer whose backlog is full is disconnected;
// it receives the current command again when it reconnects.
func (h *Hub) Play(cmd avatar.Command) {
	data, err := json.Marshal(cmd)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal command")
		return
	}

	h.mu.Lock()
	h.last = data
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn().Str("client", c.id).Msg("Renderer too slow, disconnecting")
		go h.remove(c)
	}
}

// ClientCount returns the number of connected renderers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the renderer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.AvatarSubscribers.Inc()
	h.logger.Info().Str("client", c.id).Int("clients", count).Msg("Renderer connected")

	h.wg.Add(2)
	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	metrics.AvatarSubscribers.Dec()
	h.logger.Info().Str("client", c.id).Int("clients", count).Msg("Renderer disconnected")
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				go h.remove(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				go h.remove(c)
				return
			}
		}
	}
}

// readPump only services control frames; renderers report playback state
// over the REST API.
func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("client", c.id).Msg("Renderer read error")
			}
			return
		}
	}
}

// Close disconnects every renderer and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.wg.Wait()
}

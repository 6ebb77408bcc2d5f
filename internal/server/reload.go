package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/rain/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// ReloadMessage tells browsers which urls changed.
type ReloadMessage struct {
	Type      string    `json:"type"`
	URLs      []string  `json:"urls"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one subscribed browser.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub fans reload notices out to every subscribed browser.
type Hub struct {
	allowed []string
	logger  logging.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	stopped    chan struct{}
	stopOnce   sync.Once

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub accepting browsers whose origin host is in allowed.
func NewHub(allowed []string, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		allowed:    allowed,
		logger:     logger.WithComponent("reload"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		stopped:    make(chan struct{}),
		clients:    make(map[*Client]struct{}),
	}
}

// Clients returns the number of subscribed browsers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Reload queues a reload notice for urls. It never blocks; a notice is
// dropped when the queue is full.
func (h *Hub) Reload(ctx context.Context, urls ...string) {
	msg, err := json.Marshal(ReloadMessage{Type: "reload", URLs: urls, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error(ctx, err, "Encoding reload message")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn(ctx, nil, "Reload queue full, notice dropped", "urls", urls)
	}
}

// Run delivers queued notices until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug(ctx, "Client connected", "clients", n)

		case c := <-h.unregister:
			h.remove(c, websocket.StatusNormalClosure)
			h.logger.Debug(ctx, "Client disconnected", "clients", h.Clients())

		case msg := <-h.broadcast:
			var failed []*Client
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Client's send channel is full.
					failed = append(failed, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range failed {
				h.remove(c, websocket.StatusPolicyViolation)
			}
		}
	}
}

func (h *Hub) remove(c *Client, status websocket.StatusCode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close(status, "")
	}
}

func (h *Hub) closeAll() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
			c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		h.mu.Unlock()
		close(h.stopped)
	})
}

// ServeWS upgrades the request and keeps the connection until either side
// closes it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if !h.allowedOrigin(origin) {
		http.Error(w, "Origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.allowed})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed")
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 16), hub: h}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	case <-r.Context().Done():
		conn.Close(websocket.StatusGoingAway, "")
		return
	}

	go c.writePump(r.Context())
	c.readPump(r.Context())
}

// allowedOrigin accepts http(s) origins whose host is in the allow list.
func (h *Hub) allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	for _, allowed := range h.allowed {
		if u.Host == allowed {
			return true
		}
	}
	return false
}

// readPump drains the connection so control frames are handled. Browsers
// have nothing to say on this channel.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		readCtx, cancel := context.WithTimeout(ctx, pongWait)
		_, _, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.hub.logger.Debug(ctx, "WebSocket read ended", "error", err.Error())
			}
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
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

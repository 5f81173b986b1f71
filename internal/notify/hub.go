// README: WebSocket hub; clients subscribe to one topic and receive its messages in real time.
package notify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	clientBuffer   = 64
)

var ErrNoTopic = errors.New("topic is required")

type client struct {
	topic string
	conn  *websocket.Conn
	send  chan []byte
	hub   *Hub
}

// Hub is a Sink as well as the /ws endpoint.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*client]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub accepts browser connections from the listed origins. Same-origin
// requests and clients that send no Origin header are always accepted;
// "*" allows any origin.
func NewHub(log *zap.Logger, allowedOrigins ...string) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: log,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (h *Hub) Name() string { return "websocket" }

// Send never waits on a slow subscriber; its copy is dropped instead.
func (h *Hub) Send(_ context.Context, m Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[m.Topic] {
		select {
		case c.send <- m.Payload:
		default:
			h.log.Warn("websocket subscriber lagging, dropping message", zap.String("topic", m.Topic))
		}
	}
	return nil
}

// Subscribers reports the number of connections listening on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ServeWS upgrades the request and subscribes the connection to topic.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string) error {
	if topic == "" {
		return ErrNoTopic
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{topic: topic, conn: conn, send: make(chan []byte, clientBuffer), hub: h}
	h.register(c)

	go c.writePump()
	go c.readPump()
	return nil
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.topics {
		for c := range set {
			close(c.send)
		}
		delete(h.topics, topic)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[c.topic]
	if !ok {
		set = make(map[*client]struct{})
		h.topics[c.topic] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[c.topic]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.topics, c.topic)
	}
}

// readPump only services control frames; subscribers do not send data.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read failed", zap.String("topic", c.topic), zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

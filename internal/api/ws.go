package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
	backlogSize    = 20
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub fans workflow events out to connected operator websockets.
// Slow clients are dropped rather than blocking the publisher.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     *zap.Logger
}

func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		clients: make(map[*wsClient]struct{}),
		log:     logger,
	}
}

// Publish implements clinic.Publisher.
func (h *EventHub) Publish(ev clinic.EventLog) {
	msg, err := json.Marshal(toEventMessage(ev))
	if err != nil {
		h.log.Warn("marshal event", zap.String("event", ev.EventType), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow event subscriber", zap.String("remote", c.conn.RemoteAddr().String()))
		h.remove(c)
	}
}

// Clients reports how many subscribers are connected.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *EventHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove closes the send channel exactly once, which stops the writer.
func (h *EventHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Handler upgrades the request and streams events. The latest events are
// replayed first, oldest to newest.
func (h *EventHub) Handler(svc *clinic.Service, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed || allowed == "*" {
					return true
				}
			}
			return false
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		backlog, err := svc.RecentEvents(r.Context(), backlogSize)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader already wrote the error response
			loggerFrom(r.Context()).Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		c := &wsClient{conn: conn, send: make(chan []byte, sendBuffer)}
		if hello, err := json.Marshal(map[string]string{"type": "connected"}); err == nil {
			c.send <- hello
		}
		for i := len(backlog) - 1; i >= 0; i-- {
			if msg, err := json.Marshal(toEventMessage(backlog[i])); err == nil {
				c.send <- msg
			}
		}

		h.add(c)
		go h.writePump(c)
		h.readPump(c)
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump only watches for pongs and close frames. Operators never send data.
func (h *EventHub) readPump(c *wsClient) {
	defer h.remove(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("event subscriber closed", zap.Error(err))
			}
			return
		}
	}
}

package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
)

// newUpgrader builds an upgrader whose origin check mirrors the HTTP CORS
// policy: "*" allows everything, empty allows same-origin only, anything
// else is an allowlist.
func newUpgrader(corsOrigin string) websocket.Upgrader {
	allowedOrigins := make(map[string]bool)
	if corsOrigin != "" && corsOrigin != "*" {
		for _, origin := range strings.Split(corsOrigin, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			if corsOrigin == "" {
				if origin == "" {
					return true
				}
				return strings.Contains(origin, r.Host)
			}
			return allowedOrigins[origin]
		},
	}
}

// WebSocketHub streams the aggregator's own log entries to connected
// clients, mirroring what the ring buffer serves over REST.
type WebSocketHub struct {
	log        *logger.Logger
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan any
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewWebSocketHub(cfg *config.Config, log *logger.Logger) *WebSocketHub {
	h := &WebSocketHub{
		log:        log,
		upgrader:   newUpgrader(cfg.CORSOrigin),
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan any),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
	}

	logCh := log.Subscribe()
	go func() {
		defer log.Unsubscribe(logCh)
		for {
			select {
			case entry, ok := <-logCh:
				if !ok {
					return
				}
				select {
				case h.broadcast <- map[string]any{"type": "log", "data": entry}:
				case <-h.stop:
					return
				}
			case <-h.stop:
				return
			}
		}
	}()

	go h.run()
	return h
}

func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.log.Debugf("WebSocket client connected (total: %d)", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if err := client.Close(); err != nil {
					h.log.Debugf("WebSocket close error: %v", err)
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					h.log.Debugf("WebSocket write error, dropping client: %v", err)
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and disconnects every client.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// drop hands the connection to the hub loop, falling back to a direct
// close once the hub has stopped and no longer drains unregister.
func (h *WebSocketHub) drop(ws *websocket.Conn) {
	select {
	case h.unregister <- ws:
	case <-h.stop:
		ws.Close()
	}
}

func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	select {
	case h.register <- ws:
	case <-h.stop:
		ws.Close()
		return
	}

	const (
		pongWait   = 60 * time.Second
		pingPeriod = (pongWait * 9) / 10
	)

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.log.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			h.mu.Lock()
			if _, exists := h.clients[ws]; !exists {
				h.mu.Unlock()
				return
			}
			// Holding the mutex prevents concurrent writes with broadcast.
			err := ws.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				h.drop(ws)
				return
			}
		}
	}()

	defer h.drop(ws)

	// Reads only serve the pong handler; clients never send payloads.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

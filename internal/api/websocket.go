package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rawblock/pattern-engine/internal/alerts"
)

const (
	writeWait      = 5 * time.Second
	broadcastQueue = 256
)

// Hub maintains the set of active websocket clients and fans alerts out to
// them.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	logger    *zap.Logger
}

// NewHub accepts connections from allowedOrigins, or from any origin when the
// list is empty.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		broadcast: make(chan []byte, broadcastQueue),
		clients:   make(map[*websocket.Conn]bool),
		logger:    logger.Named("ws"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowedOrigins) == 0 || origin == "" || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run writes queued messages to every client until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				// Set write deadline to prevent blocked clients from hanging the hub
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.logger.Warn("websocket write failed", zap.Error(err))
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		_ = client.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		client.Close()
		delete(h.clients, client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// Subscribe handles incoming websocket connections
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	total := len(h.clients)
	h.mutex.Unlock()
	h.logger.Info("client connected", zap.Int("clients", total))

	// Push-only stream; reading is still required to notice disconnects.
	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			total := len(h.clients)
			h.mutex.Unlock()
			conn.Close()
			h.logger.Info("client disconnected", zap.Int("clients", total))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read failed", zap.Error(err))
				}
				return
			}
		}
	}()
}

// Broadcast queues raw data for every client. When the queue is full the
// message is dropped rather than blocking the caller.
func (h *Hub) Broadcast(data []byte) bool {
	select {
	case h.broadcast <- data:
		return true
	default:
		h.logger.Warn("broadcast queue full, dropping message")
		return false
	}
}

// alertMessage is the websocket payload for a raised alert.
type alertMessage struct {
	Type  string       `json:"type"`
	Alert alerts.Alert `json:"alert"`
}

// BroadcastAlert is wired as the alert manager's broadcast callback.
func (h *Hub) BroadcastAlert(a alerts.Alert) {
	b, err := json.Marshal(alertMessage{Type: "pattern_alert", Alert: a})
	if err != nil {
		h.logger.Error("encode alert", zap.Error(err))
		return
	}
	h.Broadcast(b)
}

package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"launchq/internal/models"
	"launchq/internal/prompt"
)

const (
	FrameReady        = "ready"
	FrameCurrent      = "current"
	FrameProgress     = "progress"
	FrameInvalidate   = "invalidate"
	FrameNotification = "notification"
	FramePrompt       = "prompt"
	FramePromptClosed = "prompt_closed"
	FrameUpdate       = "update"
)

const (
	broadcastBuffer = 256
	tickInterval    = 10 * time.Second
	waitTimeout     = 60 * time.Second
)

// Frame is the envelope of every message sent to UI clients.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, broadcastBuffer),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Run writes queued frames to every client until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			h.write([]byte(`{"type":"update"}`))
		case msg := <-h.broadcast:
			h.write(msg)
		}
	}
}

func (h *Hub) write(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) send(frameType string, data any) {
	msg, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		h.logger.Error("Failed to marshal frame", "type", frameType, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast buffer full, dropping frame", "type", frameType)
	}
}

func (h *Hub) InstallReady(ready bool) {
	h.send(FrameReady, map[string]bool{"ready": ready})
}

func (h *Hub) CurrentChanged(job *models.JobRef) {
	h.send(FrameCurrent, map[string]*models.JobRef{"current": job})
}

func (h *Hub) ProgressChanged(snap models.ProgressSnapshot) {
	h.send(FrameProgress, snap)
}

// InvalidateView tells clients to re-fetch the list of items in state.
func (h *Hub) InvalidateView(state models.State) {
	h.send(FrameInvalidate, map[string]models.State{"view": state})
}

func (h *Hub) Notify(n models.Notification) {
	h.send(FrameNotification, n)
}

func (h *Hub) PublishPrompt(q prompt.Question) {
	h.send(FramePrompt, q)
}

func (h *Hub) PublishPromptClosed(id string) {
	h.send(FramePromptClosed, map[string]string{"id": id})
}

func (h *Hub) WsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	h.logger.Info("Client connected", "remote_addr", r.RemoteAddr)
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("Client disconnected")
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(waitTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WS read error", "error", err)
			}
			break
		}
	}
}

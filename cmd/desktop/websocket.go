// Package main provides the local appdeck server for desktop platforms.
// The UI communicates over REST and WebSocket on localhost.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	stdsync "sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/appdeck/internal/bridge"
	"github.com/kimhsiao/appdeck/internal/logging"
	syncpkg "github.com/kimhsiao/appdeck/internal/sync"
	"github.com/kimhsiao/appdeck/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost.
		return strings.HasPrefix(r.Host, "localhost") || strings.HasPrefix(r.Host, "127.0.0.1")
	},
}

// WSClient represents one WebSocket client connection.
type WSClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *WSHub
}

// WSHub maintains active client connections and broadcasts messages.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         stdsync.RWMutex

	events    <-chan bridge.Event
	cancelSub func()
}

// WSEnvelope wraps all WebSocket messages.
type WSEnvelope struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}

const (
	// Sync lifecycle events
	EventSyncStatus = "sync.status"

	// Catalog events
	EventWSCategoryAdded     = "catalog.category_added"
	EventWSCategoryUpdated   = "catalog.category_updated"
	EventWSAssignmentAdded   = "catalog.assignment_added"
	EventWSAssignmentUpdated = "catalog.assignment_updated"

	// Conflict events
	EventWSConflictDetected = "sync.conflict_detected"
	EventWSConflictResolved = "sync.conflict_resolved"
	EventWSDeletionResolved = "sync.deletion_resolved"
)

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client connected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			logging.Info("WebSocket client disconnected", map[string]interface{}{
				"client_id": client.id,
				"total":     total,
			})

		case message := <-h.broadcast:
			h.mu.Lock()
			for id, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, drop the connection.
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a typed message to all connected clients.
func (h *WSHub) Broadcast(messageType string, data map[string]interface{}) {
	envelope := WSEnvelope{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	bytes, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("Failed to marshal WebSocket message", err)
		return
	}
	select {
	case h.broadcast <- bytes:
	default:
		logging.Warn("WebSocket broadcast buffer full, dropping message",
			map[string]interface{}{"type": messageType})
	}
}

// BroadcastStatus pushes a coordinator status snapshot. Wired as a status
// listener, so every transition reaches the UI without polling.
func (h *WSHub) BroadcastStatus(info syncpkg.StatusInfo) {
	data := map[string]interface{}{
		"status":             string(info.Status),
		"enabled":            info.Enabled,
		"online":             info.Online,
		"pending_operations": info.Pending,
	}
	if info.LastSync != nil {
		data["last_sync"] = info.LastSync.Format(time.RFC3339)
	}
	if info.LastError != "" {
		data["last_error"] = info.LastError
	}
	h.Broadcast(EventSyncStatus, data)
}

// SubscribeBridge opens the hub's bridge subscription. Call it before any
// publisher runs so early events buffer instead of being dropped, then
// start PumpBridge to drain them.
func (h *WSHub) SubscribeBridge(bus *bridge.Bus) {
	h.events, h.cancelSub = bus.Subscribe(128)
}

// PumpBridge forwards bridge events to connected clients until ctx is
// cancelled. SubscribeBridge must have been called first.
func (h *WSHub) PumpBridge(ctx context.Context) {
	if h.events == nil {
		return
	}
	defer h.cancelSub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.events:
			if !ok {
				return
			}
			h.forward(ev)
		}
	}
}

func (h *WSHub) forward(ev bridge.Event) {
	data := map[string]interface{}{}
	var msgType string

	switch ev.Kind {
	case bridge.EventCategoryAdded:
		msgType = EventWSCategoryAdded
	case bridge.EventCategoryUpdated:
		msgType = EventWSCategoryUpdated
	case bridge.EventAssignmentAdded:
		msgType = EventWSAssignmentAdded
	case bridge.EventAssignmentUpdated:
		msgType = EventWSAssignmentUpdated
	case bridge.EventConflictDetected:
		msgType = EventWSConflictDetected
	case bridge.EventConflictResolved:
		msgType = EventWSConflictResolved
	case bridge.EventDeletionResolved:
		msgType = EventWSDeletionResolved
		data["decision"] = string(ev.Decision)
	default:
		return
	}

	if ev.Category != nil {
		data["category"] = ev.Category
	}
	if ev.Assignment != nil {
		data["assignment"] = ev.Assignment
	}
	if ev.Conflict != nil {
		data["conflict_id"] = ev.Conflict.ID.String()
		data["conflict_kind"] = string(ev.Conflict.Kind)
		data["item_key"] = ev.Conflict.Key()
	}
	h.Broadcast(msgType, data)
}

// ServeWS upgrades an HTTP request to a WebSocket connection.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("WebSocket upgrade failed", err)
		return
	}
	client := &WSClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		hub:  h,
	}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the socket is push-only. It exists to
// notice closes and answer pings.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

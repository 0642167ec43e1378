package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DecodeHub manages WebSocket connections for the live decode stream.
// Every decoded character, completed line, squelch transition, and
// channel snapshot is pushed to all connected clients.
type DecodeHub struct {
	clients   map[*websocket.Conn]*sync.Mutex // Each connection has its own write mutex
	clientIDs map[*websocket.Conn]string
	clientsMu sync.RWMutex

	engine  *Engine
	metrics *Metrics

	upgrader websocket.Upgrader
}

// NewDecodeHub creates the decode stream hub
func NewDecodeHub(engine *Engine, metrics *Metrics) *DecodeHub {
	return &DecodeHub{
		clients:   make(map[*websocket.Conn]*sync.Mutex),
		clientIDs: make(map[*websocket.Conn]string),
		engine:    engine,
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				return true // Decode stream is read-only, any origin may listen
			},
		},
	}
}

// HandleWebSocket upgrades a client and streams decode events to it
func (h *DecodeHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] failed to upgrade connection: %v", err)
		return
	}

	clientID := uuid.New().String()

	h.clientsMu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.clientIDs[conn] = clientID
	clientCount := len(h.clients)
	h.clientsMu.Unlock()

	log.Printf("[ws] client %s connected from %s (total: %d)", clientID, r.RemoteAddr, clientCount)
	h.metrics.RecordWSConnection()

	// New clients get the current picture before the live stream
	h.sendMessage(conn, map[string]interface{}{
		"type": "channels",
		"data": h.engine.ChannelList(),
	})
	h.sendMessage(conn, map[string]interface{}{
		"type": "recent",
		"data": h.engine.RecentLines(50),
	})

	go h.handleClient(conn, clientID)
}

// handleClient services one client's read side until it disconnects
func (h *DecodeHub) handleClient(conn *websocket.Conn, clientID string) {
	defer func() {
		// The broadcast path may have already evicted this connection
		h.clientsMu.Lock()
		_, present := h.clients[conn]
		delete(h.clients, conn)
		delete(h.clientIDs, conn)
		clientCount := len(h.clients)
		h.clientsMu.Unlock()

		conn.Close()
		if present {
			h.metrics.RecordWSDisconnect()
		}
		log.Printf("[ws] client %s disconnected (total: %d)", clientID, clientCount)
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for range ticker.C {
			h.clientsMu.RLock()
			writeMu, exists := h.clients[conn]
			h.clientsMu.RUnlock()
			if !exists {
				return
			}

			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] read error from %s: %v", clientID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		msgType, ok := msg["type"].(string)
		if !ok {
			continue
		}

		switch msgType {
		case "ping":
			h.sendMessage(conn, map[string]interface{}{"type": "pong"})
		case "get_channels":
			h.sendMessage(conn, map[string]interface{}{
				"type": "channels",
				"data": h.engine.ChannelList(),
			})
		case "get_recent":
			h.sendMessage(conn, map[string]interface{}{
				"type": "recent",
				"data": h.engine.RecentLines(50),
			})
		}
	}
}

// PublishDecode streams one decoded character to all clients
func (h *DecodeHub) PublishDecode(ev DecodeEvent) {
	if h == nil {
		return
	}
	h.broadcast(map[string]interface{}{
		"type": "decode",
		"data": ev,
	})
}

// PublishSignal streams a squelch transition to all clients
func (h *DecodeHub) PublishSignal(ev SignalEvent) {
	if h == nil {
		return
	}
	h.broadcast(map[string]interface{}{
		"type": "signal",
		"data": ev,
	})
}

// PublishLine streams a completed line to all clients
func (h *DecodeHub) PublishLine(line DecodedLine) {
	if h == nil {
		return
	}
	h.broadcast(map[string]interface{}{
		"type": "line",
		"data": line,
	})
}

// PublishChannels streams a channel state snapshot to all clients
func (h *DecodeHub) PublishChannels(channels []ChannelInfo) {
	if h == nil {
		return
	}
	h.broadcast(map[string]interface{}{
		"type": "channels",
		"data": channels,
	})
}

// ClientCount returns the number of connected clients
func (h *DecodeHub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// broadcast sends a message to every connected client
func (h *DecodeHub) broadcast(message map[string]interface{}) {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		log.Printf("[ws] failed to marshal message: %v", err)
		return
	}

	// Copy the client list first so slow writes never hold clientsMu
	h.clientsMu.RLock()
	if len(h.clients) == 0 {
		h.clientsMu.RUnlock()
		return
	}
	clientList := make([]*websocket.Conn, 0, len(h.clients))
	writeMutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, writeMu := range h.clients {
		clientList = append(clientList, conn)
		writeMutexes = append(writeMutexes, writeMu)
	}
	h.clientsMu.RUnlock()

	var failedConns []*websocket.Conn

	for i, conn := range clientList {
		writeMu := writeMutexes[i]

		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		err := conn.WriteMessage(websocket.TextMessage, messageJSON)
		writeMu.Unlock()

		if err != nil {
			failedConns = append(failedConns, conn)
		}
	}

	if len(failedConns) > 0 {
		h.clientsMu.Lock()
		for _, conn := range failedConns {
			if _, exists := h.clients[conn]; exists {
				delete(h.clients, conn)
				delete(h.clientIDs, conn)
				conn.Close()
				h.metrics.RecordWSDisconnect()
			}
		}
		remaining := len(h.clients)
		h.clientsMu.Unlock()
		log.Printf("[ws] cleaned up %d failed connection(s) (remaining: %d)", len(failedConns), remaining)
	}
}

// sendMessage sends a message to a single client
func (h *DecodeHub) sendMessage(conn *websocket.Conn, message map[string]interface{}) {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		return
	}

	h.clientsMu.RLock()
	writeMu, exists := h.clients[conn]
	h.clientsMu.RUnlock()
	if !exists {
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, messageJSON); err != nil {
		log.Printf("[ws] failed to send message: %v", err)
	}
}

// Package events broadcasts board change notifications to websocket
// observers.
//
// The persistence API publishes a board_changed message after every
// committed write; clients use it to trigger a reconciliation refetch.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"
)

// MessageType defines the type of event message
type MessageType string

const (
	// MessageTypeBoardChanged indicates a committed write to a board
	MessageTypeBoardChanged MessageType = "board_changed"

	// MessageTypeWelcome is sent to every client on connect
	MessageTypeWelcome MessageType = "welcome"
)

// Message represents a broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// BoardChangedData describes a committed write
type BoardChangedData struct {
	BoardID  string `json:"boardId"`
	Entity   string `json:"entity"` // card, column, board
	EntityID string `json:"entityId"`
	Action   string `json:"action"` // created, updated, moved, deleted, reordered
}

// Publisher receives board change notifications. Use Discard when nothing
// listens.
type Publisher interface {
	BoardChanged(data BoardChangedData)
}

type discard struct{}

func (discard) BoardChanged(BoardChangedData) {}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

// Hub manages websocket connections and fans messages out to them
type Hub struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *log.Entry
}

// NewHub creates a hub. Call Start before serving connections.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		log:       log.WithField("component", "events"),
	}
}

// Start runs the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every connection and waits for the broadcast loop.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Broadcast queues a message for every connected client. Messages are
// dropped when the queue is full.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		h.log.WithField("type", msg.Type).Warn("broadcast channel full, dropping message")
	}
}

// BoardChanged broadcasts a board_changed message.
func (h *Hub) BoardChanged(data BoardChangedData) {
	h.publish(MessageTypeBoardChanged, data)
}

func (h *Hub) publish(typ MessageType, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event data")
		return
	}
	h.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: raw})
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.log.WithError(err).Error("failed to marshal message")
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.log.WithError(err).Debug("failed to send to client")
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.log.WithField("clients", count).Info("client connected")

	welcome, _ := json.Marshal(Message{Type: MessageTypeWelcome, Timestamp: time.Now()})
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcome)
	cancel()

	// Observers never send; reading only detects the disconnect.
	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.log.WithField("clients", count).Info("client disconnected")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Package stream publishes router state to UI clients over HTTP and
// WebSocket.
package stream

import (
	"sync"
	"time"

	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message is the JSON form of a session change.
type Message struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	State    string          `json:"state,omitempty"`
	Endpoint string          `json:"endpoint,omitempty"`
	Kind     string          `json:"kind,omitempty"`
	Packet   protocol.Packet `json:"packet,omitempty"`
	Adapter  string          `json:"adapter,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// MessageOf converts a change to its wire form.
func MessageOf(c session.Change) Message {
	m := Message{Type: c.Type.String(), ID: string(c.ID), Packet: c.Packet, At: c.At}
	if c.ID != "" {
		m.State = c.State.String()
	}
	if c.Endpoint != 0 {
		m.Endpoint = c.Endpoint.String()
	}
	if c.Packet != nil {
		m.Kind = c.Packet.Kind().String()
	}
	if c.Type == session.ChangeAdapterChanged {
		m.Adapter = c.Adapter.String()
	}
	if c.Err != nil {
		m.Error = c.Err.Error()
	}
	return m
}

// Hub tracks connected WebSocket clients and broadcasts messages to them.
type Hub struct {
	mu           sync.Mutex
	clients      map[*websocket.Conn]struct{}
	writeTimeout time.Duration
	logger       *logrus.Logger
}

func NewHub(writeTimeout time.Duration, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		clients:      make(map[*websocket.Conn]struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (h *Hub) Add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

// Remove forgets conn and closes it.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast writes msg to every client in parallel. Clients that miss the
// write deadline or fail are dropped.
func (h *Hub) Broadcast(msg Message) {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var (
		wg       sync.WaitGroup
		failedMu sync.Mutex
		failed   []*websocket.Conn
	)
	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			_ = c.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.WriteJSON(msg); err != nil {
				h.logger.WithError(err).WithField("client", c.RemoteAddr()).Debug("dropping websocket client")
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		h.Remove(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.writeTimeout))
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

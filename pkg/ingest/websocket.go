package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/OlenaSrost/MCCircadianQueries/pkg/config"
	"github.com/OlenaSrost/MCCircadianQueries/pkg/invalidation"
)

// Clients only send control frames
const wsMaxMessageSize = 512

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Same-origin browsers, or non-browser clients that send no Origin
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// InvalidationMessage is what websocket clients receive
type InvalidationMessage struct {
	Type  string             `json:"type"`
	Event invalidation.Event `json:"event"`
}

// subscriber is one websocket connection. Only its writePump writes to
// conn; the hub hands it messages through send.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// InvalidationHub pushes invalidation events to websocket clients.
// A client whose send queue is full is disconnected rather than slowing
// the other clients down.
type InvalidationHub struct {
	mu      sync.RWMutex
	clients map[*subscriber]struct{}

	register   chan *subscriber
	unregister chan *subscriber
	done       chan struct{}
}

// NewInvalidationHub creates a new websocket hub
func NewInvalidationHub() *InvalidationHub {
	return &InvalidationHub{
		clients:    make(map[*subscriber]struct{}),
		register:   make(chan *subscriber, config.WSChannelBuffer),
		unregister: make(chan *subscriber, config.WSChannelBuffer),
		done:       make(chan struct{}),
	}
}

// Run forwards every event received on events to the connected clients
// until ctx is done. Run must be called at most once.
func (h *InvalidationHub) Run(ctx context.Context, events <-chan invalidation.Event) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			data, err := json.Marshal(InvalidationMessage{Type: "invalidation", Event: ev})
			if err != nil {
				log.Printf("Failed to encode invalidation %s: %v", ev.ID, err)
				continue
			}
			h.fanout(data)
		case s := <-h.register:
			h.mu.Lock()
			h.clients[s] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("WebSocket client connected (total: %d)", count)
		case s := <-h.unregister:
			h.remove(s, "disconnected")
		}
	}
}

func (h *InvalidationHub) fanout(data []byte) {
	var slow []*subscriber

	h.mu.RLock()
	for s := range h.clients {
		select {
		case s.send <- data:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		h.remove(s, "dropped, send queue full")
	}
}

// remove closes the send queue of a registered subscriber, which makes its
// writePump close the connection
func (h *InvalidationHub) remove(s *subscriber, reason string) {
	h.mu.Lock()
	_, ok := h.clients[s]
	if ok {
		delete(h.clients, s)
		close(s.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		log.Printf("WebSocket client %s (total: %d)", reason, count)
	}
}

func (h *InvalidationHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		close(s.send)
		delete(h.clients, s)
	}
}

// Clients returns the number of connected clients
func (h *InvalidationHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket handles GET /v1/ws upgrade requests
func (h *InvalidationHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, config.WSChannelBuffer)}
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	go s.writePump(h.done)
	s.readPump()

	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

func (s *subscriber) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			s.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump only drives control frames and close detection
func (s *subscriber) readPump() {
	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}

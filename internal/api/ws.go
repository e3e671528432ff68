package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ppe-sentinel/internal/events"
)

const wsWriteTimeout = 2 * time.Second

// ViolationHub pushes recorded violations to connected dashboards. It plugs
// into the violation processor as one of its event publishers, so browsers
// and the message bus see the same payload.
type ViolationHub struct {
	upgrader websocket.Upgrader

	// sendMu serializes fan-outs: gorilla connections allow one writer at a
	// time and the processor publishes from several workers.
	sendMu sync.Mutex

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewViolationHub() *ViolationHub {
	return &ViolationHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins in every known
			// deployment; access control lives upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// GET /api/ws/violations
func (h *ViolationHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	log.Printf("[WS] client connected (%d total)", count)

	// Drain reads so close frames and pings are processed; the hub never
	// expects client payloads.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishViolation fans the event out to every client. A client that cannot
// take the write inside the timeout is dropped; one stalled dashboard must
// not block the pipeline's publish path.
func (h *ViolationHub) PublishViolation(msg events.ViolationMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("[WS] dropping slow client: %v", err)
			h.drop(c)
		}
	}
	return nil
}

// ClientCount reports connected dashboards, used by tests and health output.
func (h *ViolationHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *ViolationHub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, present := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if present {
		conn.Close()
	}
}

package cuebridge

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	Mp "github.com/maroda/cuebridge/plugin"
)

const (
	clientBuffer = 32
	writeWait    = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans dispatch records out to websocket clients.
// A client that falls behind loses records rather than slowing the bridge.
type Hub struct {
	MU      sync.Mutex
	clients map[*websocket.Conn]chan Mp.DispatchRecord
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]chan Mp.DispatchRecord)}
}

// Clients is the number of connected feeds
func (h *Hub) Clients() int {
	h.MU.Lock()
	defer h.MU.Unlock()
	return len(h.clients)
}

// Broadcast queues a record for every client without blocking
func (h *Hub) Broadcast(rec Mp.DispatchRecord) {
	h.MU.Lock()
	defer h.MU.Unlock()
	for conn, send := range h.clients {
		select {
		case send <- rec:
		default:
			slog.Debug("Websocket client behind, record dropped", slog.String("remote", conn.RemoteAddr().String()))
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) (chan Mp.DispatchRecord, bool) {
	h.MU.Lock()
	defer h.MU.Unlock()
	if h.closed {
		return nil, false
	}
	send := make(chan Mp.DispatchRecord, clientBuffer)
	h.clients[conn] = send
	return send, true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.MU.Lock()
	defer h.MU.Unlock()
	if send, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(send)
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.MU.Lock()
	defer h.MU.Unlock()
	h.closed = true
	for conn, send := range h.clients {
		delete(h.clients, conn)
		close(send)
	}
}

// ServeHTTP upgrades the request and streams records until either side goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	send, ok := h.add(conn)
	if !ok {
		return
	}
	defer h.remove(conn)

	// Reader only notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case rec, ok := <-send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bridge stopping"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(rec); err != nil {
				return // Connection closed
			}
		}
	}
}

// Package wsbridge forwards internal/pubsub topics to remote diagnostic
// observers over a WebSocket, for the diagnostic surface named as an
// external collaborator in the overview (§1). It is a transport adapter
// only — no UI lives here. Grounded directly on the teacher's DAGStreamer
// hub: the same register/unregister/broadcast channel-select loop, the same
// gorilla/websocket upgrade-and-pump-until-error client lifecycle.
package wsbridge

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fluxcore/streamgraph/internal/pubsub"
)

// Bridge relays pub/sub events to every connected WebSocket client.
type Bridge struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan pubsub.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// New creates a bridge. Call Run in its own goroutine and Attach to start
// forwarding bus events.
func New() *Bridge {
	return &Bridge{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan pubsub.Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Attach subscribes the bridge to every topic on bus and forwards them to
// connected clients.
func (br *Bridge) Attach(bus *pubsub.Bus) {
	ch := bus.Subscribe()
	go func() {
		for event := range ch {
			br.broadcast <- event
		}
	}()
}

// Run drives the client-registration and fan-out loop. Blocks until the
// process exits; intended to run in its own goroutine.
func (br *Bridge) Run() {
	for {
		select {
		case client := <-br.register:
			br.mu.Lock()
			br.clients[client] = true
			br.mu.Unlock()
			log.Printf("wsbridge: client connected (total=%d)", len(br.clients))

		case client := <-br.unregister:
			br.mu.Lock()
			if _, ok := br.clients[client]; ok {
				delete(br.clients, client)
				client.Close()
			}
			br.mu.Unlock()
			log.Printf("wsbridge: client disconnected (total=%d)", len(br.clients))

		case event := <-br.broadcast:
			br.mu.RLock()
			for client := range br.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("wsbridge: write error: %v", err)
					client.Close()
					delete(br.clients, client)
				}
			}
			br.mu.RUnlock()
		}
	}
}

// HandleWebSocket upgrades the HTTP request and registers the connection.
func (br *Bridge) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := br.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsbridge: upgrade error: %v", err)
		return
	}

	br.register <- conn

	go func() {
		defer func() { br.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Stats reports the number of connected clients and queue depth.
func (br *Bridge) Stats() map[string]interface{} {
	br.mu.RLock()
	defer br.mu.RUnlock()
	return map[string]interface{}{
		"connected_clients": len(br.clients),
		"broadcast_queue":   len(br.broadcast),
	}
}

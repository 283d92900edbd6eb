package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/service"
)

// Message is the frame pushed to kitchen displays.
type Message struct {
	Type    string          `json:"type"`
	OrderID uuid.UUID       `json:"order_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outletMessage is an internal struct for routing messages to specific outlets
type outletMessage struct {
	OutletID uuid.UUID
	Message  Message
}

// Hub maintains the set of connected kitchen displays per outlet and pushes
// committed order events to them.
type Hub struct {
	// Registered clients by outlet ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *outletMessage

	// done is closed when Run returns.
	done chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *outletMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for oid, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, oid)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.outletID] == nil {
				h.rooms[client.outletID] = make(map[*Client]bool)
			}
			h.rooms[client.outletID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg.Message)
			if err != nil {
				log.Printf("ERROR: marshal ws message %s: %v", msg.Message.Type, err)
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[msg.OutletID] {
				select {
				case client.send <- data:
				default:
					// Slow consumer; drop it and let the display reconnect.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.outletID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.outletID)
	}
}

// BroadcastToOutlet queues a message for every display of the outlet. The
// message is dropped when the queue is full; displays resync from the feed.
func (h *Hub) BroadcastToOutlet(outletID uuid.UUID, msg Message) {
	select {
	case h.broadcast <- &outletMessage{OutletID: outletID, Message: msg}:
	default:
		log.Printf("WARNING: ws broadcast queue full, dropping %s for outlet %s", msg.Type, outletID)
	}
}

// Notify implements service.Notifier.
func (h *Hub) Notify(_ context.Context, e service.Event) {
	msg := Message{Type: e.Type, OrderID: e.OrderID}
	if e.Data != nil {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			log.Printf("ERROR: marshal %s payload: %v", e.Type, err)
			return
		}
		msg.Payload = payload
	}
	h.BroadcastToOutlet(e.OutletID, msg)
}

// Clients returns the number of displays connected for an outlet.
func (h *Hub) Clients(outletID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[outletID])
}

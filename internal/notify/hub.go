// Package notify pushes notification events to connected users over
// websockets and, optionally, to a message broker.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/dpup/trafficwatch/server/internal/lib/alerts"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Envelope is the wire form of a pushed event.
type Envelope struct {
	Event     string      `json:"event"`
	Room      string      `json:"room"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Room names the channel a user's events are delivered on.
func Room(userID string) string {
	return "user:" + userID
}

// Encode wraps an event for delivery to userID.
func Encode(userID string, event alerts.Event, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{
		Event:     event.Type,
		Room:      Room(userID),
		Payload:   event.Payload,
		Timestamp: at.UTC(),
	})
}

// Hub manages websocket subscriptions by room.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

type message struct {
	room    string
	payload []byte
}

type subscription struct {
	room   string
	client Subscriber
}

var _ alerts.Publisher = (*Hub)(nil)

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for room, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, room)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.room]; !ok {
				h.clients[sub.room] = make(map[Subscriber]struct{})
			}
			h.clients[sub.room][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.room]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.room)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.room]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.room)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a client to a user's room.
func (h *Hub) Register(userID string, client Subscriber) {
	select {
	case h.register <- subscription{room: Room(userID), client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(userID string, client Subscriber) {
	select {
	case h.unreg <- subscription{room: Room(userID), client: client}:
	case <-h.done:
	}
}

// Publish delivers an event to every connection of the recipient. Users
// without a live connection are skipped; the notification stays persisted.
func (h *Hub) Publish(ctx context.Context, recipientUserID string, event alerts.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	payload, err := Encode(recipientUserID, event, h.now())
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message{room: Room(recipientUserID), payload: payload}:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections returns the number of live connections for a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[Room(userID)])
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

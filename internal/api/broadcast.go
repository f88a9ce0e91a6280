package api

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sessionwatch/backend/internal/event"
	"github.com/sessionwatch/backend/internal/session"
)

// Websocket message types. A client gets one snapshot on connect, then
// an event message for every ingested hook event.
const (
	MsgSnapshot = "snapshot"
	MsgEvent    = "event"
)

type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []session.Session `json:"sessions"`
}

type EventPayload struct {
	Event   event.Event     `json:"event"`
	Session session.Session `json:"session"`
}

// client's send channel is never closed: removal signals the write pump
// through done instead, so a broadcast racing a disconnect lands in the
// buffer harmlessly rather than panicking on a closed channel.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster pushes ingested events to connected dashboard clients.
// Polling against the query API stays the source of truth; the push
// channel just cuts the latency.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	registry *session.Registry
}

func NewBroadcaster(registry *session.Registry) *Broadcaster {
	return &Broadcaster{
		clients:  make(map[*client]bool),
		registry: registry,
	}
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	snapshot := WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: b.registry.All(),
		},
	}
	data, _ := json.Marshal(snapshot)

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish fans one ingested event out to all clients.
func (b *Broadcaster) Publish(ev event.Event, sess session.Session) {
	b.broadcast(WSMessage{
		Type: MsgEvent,
		Payload: EventPayload{
			Event:   ev,
			Session: sess,
		},
	})
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

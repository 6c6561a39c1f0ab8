package ws

import (
	"github.com/rs/zerolog"
)

type subscription struct {
	client *Client
	roomID string
}

type event struct {
	roomID string
	data   []byte
}

type direct struct {
	client *Client
	data   []byte
}

// Hub is the broadcast registry: it tracks which connection is subscribed
// to which room and fans events out. All membership state is owned by the
// Run goroutine, so transitions (including switching rooms in one step)
// are atomic as observed by other clients.
type Hub struct {
	// client -> subscribed room, "" while unsubscribed.
	clients map[*Client]string
	rooms   map[string]map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	subscribe   chan subscription
	unsubscribe chan subscription
	broadcast   chan event
	direct      chan direct

	log zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]string),
		rooms:       make(map[string]map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		broadcast:   make(chan event),
		direct:      make(chan direct),
		log:         log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = ""

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			h.leaveRoom(sub.client)
			h.clients[sub.client] = sub.roomID
			if h.rooms[sub.roomID] == nil {
				h.rooms[sub.roomID] = make(map[*Client]bool)
			}
			h.rooms[sub.roomID][sub.client] = true

		case sub := <-h.unsubscribe:
			// Idempotent: a leave for a room the client is not in is a no-op.
			if h.clients[sub.client] == sub.roomID {
				h.leaveRoom(sub.client)
			}

		case ev := <-h.broadcast:
			for client := range h.rooms[ev.roomID] {
				h.trySend(client, ev.data)
			}

		case d := <-h.direct:
			if _, ok := h.clients[d.client]; ok {
				h.trySend(d.client, d.data)
			}
		}
	}
}

// trySend delivers without blocking; a client whose buffer is full is
// dropped rather than allowed to stall the room.
func (h *Hub) trySend(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.log.Warn().Str("connection_id", client.id).Msg("slow consumer dropped")
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	h.leaveRoom(client)
	delete(h.clients, client)
	close(client.send)
}

func (h *Hub) leaveRoom(client *Client) {
	roomID := h.clients[client]
	if roomID == "" {
		return
	}
	delete(h.rooms[roomID], client)
	if len(h.rooms[roomID]) == 0 {
		delete(h.rooms, roomID)
	}
	h.clients[client] = ""
}

// Register adds a newly accepted connection, initially in no room.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a connection and its subscription. Safe to call for
// a client the hub has already dropped.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe moves the client into roomID, leaving any previous room as
// part of the same transition.
func (h *Hub) Subscribe(client *Client, roomID string) {
	h.subscribe <- subscription{client: client, roomID: roomID}
}

func (h *Hub) Unsubscribe(client *Client, roomID string) {
	h.unsubscribe <- subscription{client: client, roomID: roomID}
}

// Broadcast fans data out to every connection subscribed to roomID.
func (h *Hub) Broadcast(roomID string, data []byte) {
	h.broadcast <- event{roomID: roomID, data: data}
}

// Send delivers data to a single connection.
func (h *Hub) Send(client *Client, data []byte) {
	h.direct <- direct{client: client, data: data}
}

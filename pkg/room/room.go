package room

import (
	"encoding/json"
	"sort"
	"sync"

	"pagesync/pkg/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client represents one connected sync client. A client can be attached to
// any number of workspace rooms.
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mutex      sync.Mutex
	closed     bool
	workspaces map[string]struct{}
}

// NewClient creates a client with an outbound buffer of size buffer.
func NewClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:         id,
		Conn:       conn,
		Send:       make(chan []byte, buffer),
		workspaces: make(map[string]struct{}),
	}
}

// Enqueue queues message for the write pump without blocking. It returns false
// when the client is closed or its buffer is full.
func (c *Client) Enqueue(message []byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// Workspaces returns the ids of the rooms the client is attached to.
func (c *Client) Workspaces() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ids := make([]string, 0, len(c.workspaces))
	for id := range c.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// close closes Send once; the write pump sees it and shuts the socket.
func (c *Client) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Room is the set of clients attached to one workspace.
type Room struct {
	ID      string
	Clients map[string]*Client
	mutex   sync.RWMutex
}

// Hub manages all rooms
type Hub struct {
	rooms  map[string]*Room
	mutex  sync.RWMutex
	logger zerolog.Logger
}

// NewHub creates a new hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*Room),
		logger: logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) getOrCreateRoom(workspaceID string) *Room {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, ok := h.rooms[workspaceID]
	if !ok {
		room = &Room{ID: workspaceID, Clients: make(map[string]*Client)}
		h.rooms[workspaceID] = room
	}
	return room
}

func (h *Hub) room(workspaceID string) *Room {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.rooms[workspaceID]
}

// Join attaches c to the room of workspaceID. It reports whether the client was
// newly attached.
func (h *Hub) Join(workspaceID string, c *Client) bool {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return false
	}
	if _, ok := c.workspaces[workspaceID]; ok {
		c.mutex.Unlock()
		return false
	}
	c.workspaces[workspaceID] = struct{}{}
	c.mutex.Unlock()

	room := h.getOrCreateRoom(workspaceID)
	room.mutex.Lock()
	room.Clients[c.ID] = c
	count := len(room.Clients)
	room.mutex.Unlock()

	h.logger.Debug().Str("workspace", workspaceID).Str("conn", c.ID).Int("clients", count).Msg("client joined")
	return true
}

// Leave detaches c from every room and closes its outbound queue. Safe to call
// more than once.
func (h *Hub) Leave(c *Client) {
	for _, workspaceID := range c.Workspaces() {
		room := h.room(workspaceID)
		if room == nil {
			continue
		}
		room.mutex.Lock()
		delete(room.Clients, c.ID)
		room.mutex.Unlock()
	}
	c.close()
}

// Broadcast queues message on every client of the room. A client that cannot
// take the message is dropped; the others are unaffected. It returns the number
// of clients the message was queued for.
func (h *Hub) Broadcast(workspaceID string, message []byte) int {
	room := h.room(workspaceID)
	if room == nil {
		return 0
	}

	var dropped []*Client
	delivered := 0
	room.mutex.RLock()
	for _, client := range room.Clients {
		if client.Enqueue(message) {
			delivered++
		} else {
			dropped = append(dropped, client)
		}
	}
	room.mutex.RUnlock()

	for _, client := range dropped {
		h.logger.Warn().Str("workspace", workspaceID).Str("conn", client.ID).Msg("dropping slow client")
		h.Leave(client)
	}
	return delivered
}

// BroadcastNewEvent tells every client of the workspace, including the origin,
// that event was appended to pageID.
func (h *Hub) BroadcastNewEvent(workspaceID, pageID string, event json.RawMessage, originID string) int {
	data, err := json.Marshal(protocol.NewEvent{
		Type:         protocol.TypeNewEvent,
		WorkspaceID:  workspaceID,
		PageID:       pageID,
		Event:        event,
		ConnectionID: originID,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("workspace", workspaceID).Msg("encode newEvent")
		return 0
	}
	return h.Broadcast(workspaceID, data)
}

// Clients returns the connection ids attached to workspaceID.
func (h *Hub) Clients(workspaceID string) []string {
	room := h.room(workspaceID)
	if room == nil {
		return []string{}
	}
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	ids := make([]string, 0, len(room.Clients))
	for id := range room.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

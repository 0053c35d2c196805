package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Entity identifies what kind of object a change notification is about.
type Entity string

const (
	EntityGroup      Entity = "group"
	EntityMembership Entity = "membership"
	EntityOrganizers Entity = "organizers"
	EntityEvent      Entity = "event"
	EntityRSVP       Entity = "rsvp"
)

// Action identifies what happened to the entity.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionToggled Action = "toggled"
	ActionAdded   Action = "added"
	ActionRemoved Action = "removed"
	ActionSet     Action = "set"
)

// Message is a change notification pushed to all connected clients when a
// group, membership, organizer roster, event, or RSVP is mutated. Slug lets
// clients refresh group/event pages without a lookup; Status carries the
// membership outcome ("joined"/"left") or RSVP status.
type Message struct {
	Type   string `json:"type"`
	Entity Entity `json:"entity"`
	Action Action `json:"action"`
	ID     int64  `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewMessage builds a notification for the entity and action. The Type field
// is the entity and action joined with an underscore, e.g. "group_created".
func NewMessage(entity Entity, action Action, id int64) Message {
	return Message{
		Type:   string(entity) + "_" + string(action),
		Entity: entity,
		Action: action,
		ID:     id,
	}
}

// WithSlug returns a copy of the message carrying the entity's slug.
func (m Message) WithSlug(slug string) Message {
	m.Slug = slug
	return m
}

// WithStatus returns a copy of the message carrying a membership outcome or
// RSVP status.
func (m Message) WithStatus(status string) Message {
	m.Status = status
	return m
}

// Hub tracks connected clients and fans change notifications out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a notification to every connected client. A client whose
// send buffer is full misses the message rather than blocking the hub.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

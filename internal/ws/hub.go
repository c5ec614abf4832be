package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"tripresence/internal/models"
)

// Hub tracks live websocket connections and the named broadcast groups
// they belong to. It implements registry.Broadcaster: delivery is
// fire-and-forget through each client's buffered send channel, and a
// slow consumer loses frames rather than blocking the sender.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	groups  map[string]map[string]*Client
}

// NewHub creates an empty Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

// Register adds a connected client to the hub
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.logger.Info("connection registered", "conn", c.ID, "user", c.Identity.UserID)
}

// Unregister removes a client from the hub and every group it joined,
// and closes its send channel. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.ID]
	delete(h.clients, c.ID)
	for group, members := range h.groups {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	h.mu.Unlock()

	if known {
		c.closeSend()
		h.logger.Info("connection unregistered", "conn", c.ID, "user", c.Identity.UserID)
	}
}

// JoinGroup adds the connection to a named group. Idempotent.
func (h *Hub) JoinGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[string]*Client)
		h.groups[group] = members
	}
	members[connID] = c
}

// LeaveGroup removes the connection from a named group. Idempotent;
// the group itself is dropped when its last member leaves.
func (h *Hub) LeaveGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.groups, group)
	}
}

// EmitToGroup sends an event to every group member except
// excludeConnID.
func (h *Hub) EmitToGroup(group, event string, payload any, excludeConnID string) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID, c := range h.groups[group] {
		if connID == excludeConnID {
			continue
		}
		h.deliver(c, event, frame)
	}
}

// EmitToConnection sends an event to a single connection.
func (h *Hub) EmitToConnection(connID, event string, payload any) {
	frame, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, event, frame)
}

// GroupSize returns the current member count of a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// deliver queues a frame without blocking; a full buffer drops the
// frame for that client.
func (h *Hub) deliver(c *Client, event string, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("send buffer full, dropping frame", "conn", c.ID, "event", event)
	}
}

// encodeEvent frames an event and its payload for the wire
func encodeEvent(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Envelope{Event: event, Data: data})
}

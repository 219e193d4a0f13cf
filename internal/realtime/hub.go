// Package realtime pushes subscription status changes to connected workspace members.
package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/internal/subscription"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventSubscriptionStatus carries a subscription.Summary.
	EventSubscriptionStatus = "subscription_status"
)

// Hub maintains workspace_id -> set of connections and broadcasts messages.
// With Redis configured, publishes go through Redis so every instance delivers them once.
type Hub struct {
	// workspaceID -> map[clientID]*Client
	workspaces map[uuid.UUID]map[string]*Client
	subs       map[uuid.UUID]func() // cancel Redis subscription per workspace
	mu         sync.RWMutex
	logger     *zap.Logger
	redis      RedisPublisher
	redisSub   RedisSubscriber
}

// RedisPublisher publishes workspace events for cross-instance delivery.
type RedisPublisher interface {
	PublishWorkspaceEvent(ctx context.Context, workspaceID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to workspace channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeWorkspace(workspaceID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		workspaces: make(map[uuid.UUID]map[string]*Client),
		subs:       make(map[uuid.UUID]func()),
		logger:     logger,
		redis:      redisPub,
		redisSub:   redisSub,
	}
}

// Register adds a client to its workspace room. Starts the Redis subscription for the
// workspace on its first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.workspaces[c.WorkspaceID] == nil {
		h.workspaces[c.WorkspaceID] = make(map[string]*Client)
		if h.redisSub != nil {
			wsID := c.WorkspaceID
			cancel, err := h.redisSub.SubscribeWorkspace(wsID, func(event string, payload []byte) {
				h.BroadcastToWorkspace(wsID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("workspace subscribe failed", zap.String("workspace_id", wsID.String()), zap.Error(err))
			} else {
				h.subs[wsID] = cancel
			}
		}
	}
	h.workspaces[c.WorkspaceID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("workspace_id", c.WorkspaceID.String()))
}

// Unregister removes a client. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.workspaces[c.WorkspaceID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.workspaces, c.WorkspaceID)
			if cancel, ok := h.subs[c.WorkspaceID]; ok {
				cancel()
				delete(h.subs, c.WorkspaceID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("workspace_id", c.WorkspaceID.String()))
}

// BroadcastToWorkspace sends a message to all local clients of a workspace.
func (h *Hub) BroadcastToWorkspace(workspaceID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.workspaces[workspaceID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client send buffer full", zap.String("client_id", c.ID))
		}
	}
}

// PublishStatus delivers a status change to every member connected to any instance.
func (h *Hub) PublishStatus(ctx context.Context, workspaceID uuid.UUID, summary subscription.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if h.redis != nil {
		return h.redis.PublishWorkspaceEvent(ctx, workspaceID, EventSubscriptionStatus, data)
	}
	h.BroadcastToWorkspace(workspaceID, EventSubscriptionStatus, json.RawMessage(data))
	return nil
}

// ConnectionCount returns the number of local clients for a workspace.
func (h *Hub) ConnectionCount(workspaceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workspaces[workspaceID])
}

package hub

import (
	"encoding/json"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Notifier fans notifications and announcements out to live connections.
// It only looks up in-memory state and enqueues frames, so it never blocks.
type Notifier struct {
	registry  *Registry
	transport Transport
	logger    types.Logger
}

// NewNotifier creates a notification fan-out.
func NewNotifier(registry *Registry, transport Transport, logger types.Logger) *Notifier {
	return &Notifier{registry: registry, transport: transport, logger: logger}
}

// Push emits new-notification once per live connection of the user and returns
// how many sockets it was queued on. An offline user is not an error.
func (n *Notifier) Push(userID string, notification domain.Notification) int {
	frame := encodeFrame(EventNewNotification, notification)

	delivered := 0
	for _, connID := range n.registry.LiveConnectionsOf(userID) {
		if n.transport.Emit(connID, frame) {
			delivered++
		}
	}

	n.logger.Debug("Notification pushed",
		"userID", userID,
		"notificationID", notification.ID,
		"delivered", delivered)
	return delivered
}

// BroadcastToRole sends an event to every connection authenticated with the role.
func (n *Notifier) BroadcastToRole(role, event string, payload json.RawMessage) int {
	return n.BroadcastToRoom(RoleRoom(role), event, payload)
}

// BroadcastToRoom sends an event to the room's members at call time.
func (n *Notifier) BroadcastToRoom(room, event string, payload json.RawMessage) int {
	frame, err := json.Marshal(Frame{Type: event, Payload: payload})
	if err != nil {
		n.logger.Error("Failed to encode broadcast", "room", room, "event", event, "error", err)
		return 0
	}
	delivered := n.transport.Broadcast(room, frame)
	n.logger.Info("Broadcast sent", "room", room, "event", event, "delivered", delivered)
	return delivered
}

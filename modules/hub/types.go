package hub

import (
	"encoding/json"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Service names registered by the hub module. The framework prefixes them
// with "services.hub.".
const (
	ServicePush          = "push"
	ServiceIsOnline      = "is-online"
	ServiceOnlineUsers   = "online-users"
	ServiceBroadcastRole = "broadcast-role"
	ServiceBroadcastRoom = "broadcast-room"
)

// PushRequest asks the hub to fan a notification out to a user's connections.
type PushRequest struct {
	UserID       string              `json:"user_id"`
	Notification domain.Notification `json:"notification"`
}

// PushResponse reports how many sockets the notification was queued on.
type PushResponse struct {
	Delivered int `json:"delivered"`
}

// IsOnlineRequest asks whether a user has a live connection.
type IsOnlineRequest struct {
	UserID string `json:"user_id"`
}

// IsOnlineResponse carries the presence of one user.
type IsOnlineResponse struct {
	UserID      string `json:"user_id"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

// OnlineUsersRequest lists every online user.
type OnlineUsersRequest struct{}

// OnlineUsersResponse carries the online user ids.
type OnlineUsersResponse struct {
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// BroadcastRoleRequest sends an event to every connection of a role.
type BroadcastRoleRequest struct {
	Role    string          `json:"role"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastRoomRequest sends an event to every member of a room.
type BroadcastRoomRequest struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// BroadcastResponse reports how many sockets a broadcast was queued on.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

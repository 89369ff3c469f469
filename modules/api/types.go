package api

import (
	"encoding/json"

	domain "github.com/example/realtime-hub/domain/hub"
)

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// OnlineUsersResponse lists the users with at least one live connection.
type OnlineUsersResponse struct {
	UserIDs []string `json:"userIds"`
	Count   int      `json:"count"`
}

// PresenceResponse reports one user's presence.
type PresenceResponse struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

// BroadcastRequest is the body of the broadcast endpoints.
type BroadcastRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// BroadcastResponse reports how many connections the frame reached.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

// CreateNotificationRequest creates a notification for one user.
type CreateNotificationRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Kind   string `json:"kind"`
}

// NotificationListResponse carries the caller's notifications.
type NotificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// HistoryResponse is a conversation page, oldest first.
type HistoryResponse struct {
	PeerID   string           `json:"peerId"`
	Messages []domain.Message `json:"messages"`
}

// UpsertAccountRequest is the admin account body. Active defaults to true.
type UpsertAccountRequest struct {
	Role          string `json:"role"`
	DisplayHandle string `json:"displayHandle"`
	Active        *bool  `json:"active"`
}

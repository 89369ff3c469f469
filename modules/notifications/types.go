package notifications

import domain "github.com/example/realtime-hub/domain/hub"

// Service names registered by the notifications module.
const (
	ServiceCreate   = "create"
	ServiceList     = "list"
	ServiceMarkRead = "mark-read"
)

// Notification limits.
const (
	MaxTitleLength   = 255
	MaxBodyLength    = 4000
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// CreateRequest creates a notification for one user.
type CreateRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Kind   string `json:"kind"`
}

// CreateResponse returns the stored notification.
type CreateResponse struct {
	Notification domain.Notification `json:"notification"`
}

// ListRequest lists a user's notifications.
type ListRequest struct {
	UserID     string `json:"user_id"`
	UnreadOnly bool   `json:"unread_only"`
	Limit      int    `json:"limit"`
}

// ListResponse carries notifications, newest first.
type ListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// MarkReadRequest marks one notification read.
type MarkReadRequest struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// MarkReadResponse reports whether the notification was found.
type MarkReadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

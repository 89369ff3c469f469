package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/realtime-hub/domain/hub"
)

// PresenceChangedEvent is emitted when a user gains a first or loses a last connection.
type PresenceChangedEvent struct {
	UserID    string    `json:"user_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSentEvent is emitted after a direct message has been persisted.
type MessageSentEvent struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Kind       string    `json:"kind"`
	Delivered  bool      `json:"delivered"`
	Timestamp  time.Time `json:"timestamp"`
}

// NotificationCreatedEvent is emitted by the notifications module once a record is stored.
type NotificationCreatedEvent struct {
	Notification domain.Notification `json:"notification"`
}

// Event definitions for the realtime hub.
var (
	PresenceChangedV1 = helper.EventDefinition[PresenceChangedEvent](
		"hub",
		"PresenceChanged",
		"v1",
	)

	MessageSentV1 = helper.EventDefinition[MessageSentEvent](
		"hub",
		"MessageSent",
		"v1",
	)

	NotificationCreatedV1 = helper.EventDefinition[NotificationCreatedEvent](
		"notifications",
		"NotificationCreated",
		"v1",
	)
)

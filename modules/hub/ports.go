package hub

import (
	"context"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Transport is the socket layer's native group primitive. Room membership
// lives only behind this interface.
type Transport interface {
	Emit(connID string, frame []byte) bool
	Join(connID, room string) (bool, error)
	Leave(connID, room string) bool
	Members(room string) []string
	Broadcast(room string, frame []byte) int
	BroadcastExcept(room, exceptRoom string, frame []byte) int
	Remove(connID string) bool
}

// AuthCollaborator resolves a client token to an active account's identity.
type AuthCollaborator interface {
	Resolve(ctx context.Context, token string) (*domain.Identity, error)
}

// MessageStore durably records messages and read receipts. The hub only writes to it.
type MessageStore interface {
	Append(ctx context.Context, msg *domain.Message) (string, error)
	// RecordReadReceipt returns the id of the message's original sender.
	RecordReadReceipt(ctx context.Context, messageID, readerID string) (string, error)
}

// Publisher forwards hub activity to the rest of the process.
type Publisher interface {
	PresenceChanged(userID string, online bool)
	MessageSent(msg *domain.Message, delivered bool)
}

type noopPublisher struct{}

func (noopPublisher) PresenceChanged(string, bool)      {}
func (noopPublisher) MessageSent(*domain.Message, bool) {}

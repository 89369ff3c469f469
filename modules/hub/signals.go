package hub

import (
	"fmt"
	"strings"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Signals relays typing indicators. Nothing is persisted or acknowledged and
// the latest signal wins on the client.
type Signals struct {
	registry  *Registry
	transport Transport
	logger    types.Logger
}

// NewSignals creates a signal relay.
func NewSignals(registry *Registry, transport Transport, logger types.Logger) *Signals {
	return &Signals{registry: registry, transport: transport, logger: logger}
}

// Typing relays typing-start or typing-stop to the receiver's live connections.
// A panic here is contained and reported as an error.
func (s *Signals) Typing(sender domain.Identity, ev Typing) (relayed int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Signal relay panic", "senderID", sender.UserID, "panic", rec)
			relayed, err = 0, fmt.Errorf("signal relay: %v", rec)
		}
	}()

	receiverID := strings.TrimSpace(ev.ReceiverID)
	if receiverID == "" {
		return 0, &ValidationError{Field: "receiverId", Reason: "receiver is required"}
	}

	frame := encodeFrame(EventUserTyping, userTypingPayload{SenderID: sender.UserID, IsTyping: ev.Active})
	for _, connID := range s.registry.LiveConnectionsOf(receiverID) {
		if s.transport.Emit(connID, frame) {
			relayed++
		}
	}
	return relayed, nil
}

package hub

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Message validation limits.
const (
	MaxContentLength   = 4000
	maxUserIDLength    = 64
	maxMessageIDLength = 64
)

var allowedKinds = map[string]bool{
	domain.KindText:   true,
	domain.KindImage:  true,
	domain.KindFile:   true,
	domain.KindSystem: true,
}

// SendResult is the outcome of a persisted send.
type SendResult struct {
	Message   *domain.Message
	Delivered int // receiver sockets the new-message frame was queued on
}

// Status is "delivered" when a receiver socket was reached and "sent" otherwise.
func (r *SendResult) Status() string {
	if r.Delivered > 0 {
		return domain.StatusDelivered
	}
	return domain.StatusSent
}

// Router persists direct messages and routes them to the receiver's live connections.
type Router struct {
	registry  *Registry
	transport Transport
	store     MessageStore
	stripes   []sync.Mutex
	now       func() time.Time
}

// NewRouter creates a router. stripes bounds how many sender/receiver pairs
// can persist concurrently.
func NewRouter(registry *Registry, transport Transport, store MessageStore, stripes int) *Router {
	if stripes <= 0 {
		stripes = 64
	}
	return &Router{
		registry:  registry,
		transport: transport,
		store:     store,
		stripes:   make([]sync.Mutex, stripes),
		now:       time.Now,
	}
}

// Send validates, persists and routes one message. Persist and route run
// under the pair's stripe so the receiver sees messages in persistence order.
func (r *Router) Send(ctx context.Context, sender domain.Identity, ev SendMessage) (*SendResult, error) {
	msg, err := r.newMessage(sender, ev)
	if err != nil {
		return nil, err
	}

	mu := r.stripe(msg.SenderID, msg.ReceiverID)
	mu.Lock()
	defer mu.Unlock()

	id, err := r.store.Append(ctx, msg)
	if err != nil {
		return nil, &PersistenceError{Op: "append message", Err: err}
	}
	if id != "" {
		msg.ID = id
	}

	frame := encodeFrame(EventNewMessage, newMessagePayload{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Content:    msg.Content,
		Kind:       msg.Kind,
		CreatedAt:  msg.CreatedAt,
	})

	delivered := 0
	for _, connID := range r.registry.LiveConnectionsOf(msg.ReceiverID) {
		if r.transport.Emit(connID, frame) {
			delivered++
		}
	}
	return &SendResult{Message: msg, Delivered: delivered}, nil
}

// MarkRead records a read receipt and relays it to the original sender's live
// connections. Relay failures never undo the receipt.
func (r *Router) MarkRead(ctx context.Context, reader domain.Identity, ev MarkRead) (int, error) {
	messageID := strings.TrimSpace(ev.MessageID)
	if messageID == "" {
		return 0, &ValidationError{Field: "messageId", Reason: "message id is required"}
	}
	if len(messageID) > maxMessageIDLength {
		return 0, &ValidationError{Field: "messageId", Reason: "message id is too long"}
	}

	senderID, err := r.store.RecordReadReceipt(ctx, messageID, reader.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) || errors.Is(err, domain.ErrNotRecipient) {
			return 0, &ValidationError{Field: "messageId", Reason: err.Error()}
		}
		return 0, &PersistenceError{Op: "record read receipt", Err: err}
	}

	frame := encodeFrame(EventReadReceipt, readReceiptPayload{MessageID: messageID, ReaderID: reader.UserID})
	relayed := 0
	for _, connID := range r.registry.LiveConnectionsOf(senderID) {
		if r.transport.Emit(connID, frame) {
			relayed++
		}
	}
	return relayed, nil
}

func (r *Router) newMessage(sender domain.Identity, ev SendMessage) (*domain.Message, error) {
	receiverID := strings.TrimSpace(ev.ReceiverID)
	if receiverID == "" {
		return nil, &ValidationError{Field: "receiverId", Reason: "receiver is required"}
	}
	if len(receiverID) > maxUserIDLength {
		return nil, &ValidationError{Field: "receiverId", Reason: "receiver id is too long"}
	}

	if strings.TrimSpace(ev.Content) == "" {
		return nil, &ValidationError{Field: "content", Reason: "message content cannot be empty"}
	}
	if !utf8.ValidString(ev.Content) {
		return nil, &ValidationError{Field: "content", Reason: "message content must be valid UTF-8"}
	}
	if utf8.RuneCountInString(ev.Content) > MaxContentLength {
		return nil, &ValidationError{Field: "content", Reason: "message content is too long"}
	}

	kind := ev.Kind
	if kind == "" {
		kind = domain.KindText
	}
	if !allowedKinds[kind] {
		return nil, &ValidationError{Field: "kind", Reason: "unsupported message kind: " + kind}
	}

	return &domain.Message{
		ID:         uuid.NewString(),
		SenderID:   sender.UserID,
		ReceiverID: receiverID,
		Content:    ev.Content,
		Kind:       kind,
		Status:     domain.StatusSent,
		CreatedAt:  r.now().UTC(),
	}, nil
}

func (r *Router) stripe(senderID, receiverID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(receiverID))
	return &r.stripes[h.Sum32()%uint32(len(r.stripes))]
}

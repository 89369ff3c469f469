package hub

import (
	"encoding/json"
	"fmt"
	"time"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Client -> hub event names.
const (
	EventAuthenticate = "authenticate"
	EventSendMessage  = "send-message"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventMarkRead     = "mark-read"
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
)

// Hub -> client event names.
const (
	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
	EventMessageSent         = "message-sent"
	EventNewMessage          = "new-message"
	EventUserTyping          = "user-typing"
	EventReadReceipt         = "read-receipt"
	EventRoomJoined          = "room_joined"
	EventRoomLeft            = "room_left"
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventNewNotification     = "new-notification"
	EventError               = "error"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is the closed set of events a client may send.
// Only types in this file implement it.
type Inbound interface {
	inbound()
}

// Authenticate carries the session token asserted by the client.
type Authenticate struct {
	Token string `json:"token"`
}

// SendMessage asks the router to persist and deliver a direct message.
type SendMessage struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
	ClientRef  string `json:"clientRef,omitempty"`
}

// Typing is typing-start or typing-stop.
type Typing struct {
	ReceiverID string `json:"receiverId"`
	Active     bool   `json:"-"`
}

// MarkRead records a read receipt for a message.
type MarkRead struct {
	MessageID string `json:"messageId"`
}

// JoinRoom subscribes the connection to a room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
}

// LeaveRoom unsubscribes the connection from a room.
type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

func (Authenticate) inbound() {}
func (SendMessage) inbound()  {}
func (Typing) inbound()       {}
func (MarkRead) inbound()     {}
func (JoinRoom) inbound()     {}
func (LeaveRoom) inbound()    {}

// DecodeInbound parses a raw frame into one of the Inbound variants.
func DecodeInbound(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ProtocolError{Code: CodeMalformedFrame, Reason: "invalid message format"}
	}

	switch f.Type {
	case EventAuthenticate:
		return decodePayload[Authenticate](f)
	case EventSendMessage:
		return decodePayload[SendMessage](f)
	case EventTypingStart, EventTypingStop:
		ev, err := decodePayload[Typing](f)
		if err != nil {
			return nil, err
		}
		ev.Active = f.Type == EventTypingStart
		return ev, nil
	case EventMarkRead:
		return decodePayload[MarkRead](f)
	case EventJoinRoom:
		return decodePayload[JoinRoom](f)
	case EventLeaveRoom:
		return decodePayload[LeaveRoom](f)
	case "":
		return nil, &ProtocolError{Code: CodeMalformedFrame, Reason: "missing event type"}
	default:
		return nil, &ProtocolError{Code: CodeUnknownEvent, Reason: "unknown event type: " + f.Type}
	}
}

func decodePayload[T Inbound](f Frame) (T, error) {
	var ev T
	if len(f.Payload) == 0 {
		return ev, nil
	}
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		return ev, &ProtocolError{Code: CodeMalformedFrame, Reason: fmt.Sprintf("invalid %s payload", f.Type)}
	}
	return ev, nil
}

// encodeFrame builds an outbound frame. Payloads are plain structs, so marshal cannot fail.
func encodeFrame(eventType string, payload any) []byte {
	body, err := json.Marshal(payload)
	if err != nil {
		body = nil
	}
	b, _ := json.Marshal(Frame{Type: eventType, Payload: body})
	return b
}

// Outbound payloads.

type authenticatedPayload struct {
	Identity domain.Identity `json:"identity"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type messageSentPayload struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	ClientRef string `json:"clientRef,omitempty"`
}

type newMessagePayload struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	CreatedAt  time.Time `json:"createdAt"`
}

type userTypingPayload struct {
	SenderID string `json:"senderId"`
	IsTyping bool   `json:"isTyping"`
}

type readReceiptPayload struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type presencePayload struct {
	UserID string `json:"userId"`
}

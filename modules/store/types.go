package store

import domain "github.com/example/realtime-hub/domain/hub"

// Service names registered by the store module.
const (
	ServiceAppendMessage     = "append-message"
	ServiceRecordReadReceipt = "record-read-receipt"
	ServiceMessageHistory    = "message-history"
)

// Response codes for domain failures. Infrastructure failures are returned
// as service errors instead.
const (
	CodeMessageNotFound = "message_not_found"
	CodeNotRecipient    = "not_recipient"
)

// AppendMessageRequest persists one direct message.
type AppendMessageRequest struct {
	Message domain.Message `json:"message"`
}

// AppendMessageResponse carries the stored message id.
type AppendMessageResponse struct {
	ID string `json:"id"`
}

// RecordReadReceiptRequest marks a message read by its receiver.
type RecordReadReceiptRequest struct {
	MessageID string `json:"message_id"`
	ReaderID  string `json:"reader_id"`
}

// RecordReadReceiptResponse carries the original sender, or a code when the
// receipt was refused.
type RecordReadReceiptResponse struct {
	SenderID string `json:"sender_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// MessageHistoryRequest asks for the conversation between two users.
type MessageHistoryRequest struct {
	UserID string `json:"user_id"`
	PeerID string `json:"peer_id"`
	Limit  int    `json:"limit"`
}

// MessageHistoryResponse is the conversation, oldest first.
type MessageHistoryResponse struct {
	Messages []domain.Message `json:"messages"`
}

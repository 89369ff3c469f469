package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/realtime-hub/domain/hub"
)

// StorePort defines the interface for message storage operations.
type StorePort interface {
	Append(ctx context.Context, msg *domain.Message) (string, error)
	RecordReadReceipt(ctx context.Context, messageID, readerID string) (string, error)
	History(ctx context.Context, userID, peerID string, limit int) ([]domain.Message, error)
}

// StoreAdapter implements StorePort using the store module's services.
type StoreAdapter struct {
	container mono.ServiceContainer
}

// NewStoreAdapter creates a new StoreAdapter.
// container is the ServiceContainer from the store module received via SetDependencyServiceContainer.
func NewStoreAdapter(container mono.ServiceContainer) StorePort {
	if container == nil {
		panic("store: ServiceContainer is nil")
	}
	return &StoreAdapter{container: container}
}

// Append persists a message and returns its stored id.
func (a *StoreAdapter) Append(ctx context.Context, msg *domain.Message) (string, error) {
	req := AppendMessageRequest{Message: *msg}
	var resp AppendMessageResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceAppendMessage,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}
	return resp.ID, nil
}

// RecordReadReceipt records a receipt and returns the message's sender.
func (a *StoreAdapter) RecordReadReceipt(ctx context.Context, messageID, readerID string) (string, error) {
	req := RecordReadReceiptRequest{MessageID: messageID, ReaderID: readerID}
	var resp RecordReadReceiptResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceRecordReadReceipt,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return "", fmt.Errorf("failed to record read receipt: %w", err)
	}

	switch resp.Code {
	case "":
		return resp.SenderID, nil
	case CodeMessageNotFound:
		return "", domain.ErrMessageNotFound
	case CodeNotRecipient:
		return "", domain.ErrNotRecipient
	default:
		return "", fmt.Errorf("record read receipt: %s", resp.Message)
	}
}

// History returns the conversation between two users, oldest first.
func (a *StoreAdapter) History(ctx context.Context, userID, peerID string, limit int) ([]domain.Message, error) {
	req := MessageHistoryRequest{UserID: userID, PeerID: peerID, Limit: limit}
	var resp MessageHistoryResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceMessageHistory,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return resp.Messages, nil
}

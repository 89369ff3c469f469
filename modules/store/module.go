package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"gorm.io/gorm"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/events"
)

// StoreModule persists direct messages and read receipts for the hub.
type StoreModule struct {
	db     *gorm.DB
	repo   *MessageRepository
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*StoreModule)(nil)
var _ mono.ServiceProviderModule = (*StoreModule)(nil)
var _ mono.EventConsumerModule = (*StoreModule)(nil)
var _ mono.HealthCheckableModule = (*StoreModule)(nil)

// NewModule creates a new StoreModule on an open database.
func NewModule(db *gorm.DB, logger types.Logger) *StoreModule {
	return &StoreModule{
		db:     db,
		repo:   NewMessageRepository(db),
		logger: logger.WithModule("store"),
	}
}

// Name returns the module name.
func (m *StoreModule) Name() string {
	return "store"
}

// Start initializes the module.
func (m *StoreModule) Start(_ context.Context) error {
	if m.db == nil {
		return errors.New("database not initialized")
	}
	m.logger.Info("Module started", "dialect", m.db.Dialector.Name())
	return nil
}

// Stop shuts down the module. The database is closed by its owner.
func (m *StoreModule) Stop(_ context.Context) error {
	m.logger.Info("Module stopped")
	return nil
}

// Health performs a health check on the store.
func (m *StoreModule) Health(ctx context.Context) mono.HealthStatus {
	if m.db == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "database not initialized",
		}
	}

	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get sql.DB: %v", err),
		}
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"driver": m.db.Dialector.Name(),
		},
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *StoreModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceAppendMessage, json.Unmarshal, json.Marshal, m.appendMessage,
	); err != nil {
		return fmt.Errorf("failed to register append-message service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceRecordReadReceipt, json.Unmarshal, json.Marshal, m.recordReadReceipt,
	); err != nil {
		return fmt.Errorf("failed to register record-read-receipt service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMessageHistory, json.Unmarshal, json.Marshal, m.messageHistory,
	); err != nil {
		return fmt.Errorf("failed to register message-history service: %w", err)
	}

	m.logger.Info("Registered services", "services", "services.store.{append-message,record-read-receipt,message-history}")
	return nil
}

// RegisterEventConsumers records a delivery receipt once the hub reports a live delivery.
func (m *StoreModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.MessageSentV1, m.handleMessageSent, m); err != nil {
		return fmt.Errorf("failed to register MessageSent consumer: %w", err)
	}
	return nil
}

func (m *StoreModule) handleMessageSent(ctx context.Context, event events.MessageSentEvent, _ *mono.Msg) error {
	if !event.Delivered {
		return nil
	}
	if err := m.repo.RecordDelivery(ctx, event.MessageID); err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			m.logger.Warn("Delivered message not found", "messageID", event.MessageID)
			return nil
		}
		return err
	}
	return nil
}

func (m *StoreModule) appendMessage(ctx context.Context, req AppendMessageRequest, _ *mono.Msg) (AppendMessageResponse, error) {
	msg := req.Message
	if msg.ID == "" || msg.SenderID == "" || msg.ReceiverID == "" {
		return AppendMessageResponse{}, errors.New("message id, sender and receiver are required")
	}
	if err := m.repo.Append(ctx, &msg); err != nil {
		m.logger.Error("Append failed", "messageID", msg.ID, "error", err)
		return AppendMessageResponse{}, err
	}
	m.logger.Debug("Message stored", "messageID", msg.ID, "senderID", msg.SenderID, "receiverID", msg.ReceiverID)
	return AppendMessageResponse{ID: msg.ID}, nil
}

func (m *StoreModule) recordReadReceipt(ctx context.Context, req RecordReadReceiptRequest, _ *mono.Msg) (RecordReadReceiptResponse, error) {
	senderID, err := m.repo.RecordReadReceipt(ctx, req.MessageID, req.ReaderID)
	switch {
	case errors.Is(err, domain.ErrMessageNotFound):
		return RecordReadReceiptResponse{Code: CodeMessageNotFound, Message: err.Error()}, nil
	case errors.Is(err, domain.ErrNotRecipient):
		return RecordReadReceiptResponse{Code: CodeNotRecipient, Message: err.Error()}, nil
	case err != nil:
		return RecordReadReceiptResponse{}, err
	}
	return RecordReadReceiptResponse{SenderID: senderID}, nil
}

func (m *StoreModule) messageHistory(ctx context.Context, req MessageHistoryRequest, _ *mono.Msg) (MessageHistoryResponse, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.PeerID) == "" {
		return MessageHistoryResponse{}, errors.New("user_id and peer_id are required")
	}
	messages, err := m.repo.History(ctx, req.UserID, req.PeerID, req.Limit)
	if err != nil {
		return MessageHistoryResponse{}, err
	}
	return MessageHistoryResponse{Messages: messages}, nil
}

// Repository returns the message repository.
func (m *StoreModule) Repository() *MessageRepository {
	return m.repo
}

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/example/realtime-hub/domain/hub"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageRepository provides access to message, delivery and read receipt storage.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append saves a new message.
func (r *MessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// RecordReadReceipt stores that readerID has read messageID and returns the
// message's sender. Recording the same receipt twice is not an error.
func (r *MessageRepository) RecordReadReceipt(ctx context.Context, messageID, readerID string) (string, error) {
	var senderID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var msg domain.Message
		if err := tx.Select("id", "sender_id", "receiver_id").First(&msg, "id = ?", messageID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrMessageNotFound
			}
			return fmt.Errorf("failed to find message: %w", err)
		}
		if msg.ReceiverID != readerID {
			return domain.ErrNotRecipient
		}

		receipt := domain.ReadReceipt{MessageID: messageID, ReaderID: readerID, ReadAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error; err != nil {
			return fmt.Errorf("failed to record read receipt: %w", err)
		}
		senderID = msg.SenderID
		return nil
	})
	if err != nil {
		return "", err
	}
	return senderID, nil
}

// RecordDelivery appends a delivery receipt for a message. Recording the same
// delivery twice keeps the first timestamp.
func (r *MessageRepository) RecordDelivery(ctx context.Context, messageID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to find message: %w", err)
		}
		if count == 0 {
			return domain.ErrMessageNotFound
		}

		receipt := domain.DeliveryReceipt{MessageID: messageID, DeliveredAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error; err != nil {
			return fmt.Errorf("failed to record delivery: %w", err)
		}
		return nil
	})
}

// IsDelivered reports whether a delivery receipt exists for the message.
func (r *MessageRepository) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.DeliveryReceipt{}).
		Where("message_id = ?", messageID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check delivery receipt: %w", err)
	}
	return count > 0, nil
}

// IsRead reports whether a receipt exists for the message and reader.
func (r *MessageRepository) IsRead(ctx context.Context, messageID, readerID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ReadReceipt{}).
		Where("message_id = ? AND reader_id = ?", messageID, readerID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check read receipt: %w", err)
	}
	return count > 0, nil
}

// History returns the most recent messages exchanged between two users,
// oldest first.
func (r *MessageRepository) History(ctx context.Context, userID, peerID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	if err := r.applyDeliveries(ctx, messages); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// applyDeliveries reports delivered status on loaded messages that have a
// delivery receipt. Only the returned copies change.
func (r *MessageRepository) applyDeliveries(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]string, len(messages))
	for i := range messages {
		ids[i] = messages[i].ID
	}

	var delivered []string
	if err := r.db.WithContext(ctx).Model(&domain.DeliveryReceipt{}).
		Where("message_id IN ?", ids).
		Pluck("message_id", &delivered).Error; err != nil {
		return fmt.Errorf("failed to load delivery receipts: %w", err)
	}
	for i := range messages {
		if slices.Contains(delivered, messages[i].ID) {
			messages[i].Status = domain.StatusDelivered
		}
	}
	return nil
}

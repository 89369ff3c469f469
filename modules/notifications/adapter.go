package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/realtime-hub/domain/hub"
)

// NotificationsPort defines the interface other modules use to produce and read notifications.
type NotificationsPort interface {
	Create(ctx context.Context, req CreateRequest) (*domain.Notification, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, id, userID string) error
}

// NotificationsAdapter implements NotificationsPort using the service container.
type NotificationsAdapter struct {
	container mono.ServiceContainer
}

// NewNotificationsAdapter creates a new NotificationsAdapter.
func NewNotificationsAdapter(container mono.ServiceContainer) NotificationsPort {
	if container == nil {
		panic("notifications: ServiceContainer is nil")
	}
	return &NotificationsAdapter{container: container}
}

// Create stores a notification; the hub pushes it to the user's live connections.
func (a *NotificationsAdapter) Create(ctx context.Context, req CreateRequest) (*domain.Notification, error) {
	var resp CreateResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceCreate,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &resp.Notification, nil
}

// List returns a user's notifications, newest first.
func (a *NotificationsAdapter) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	req := ListRequest{UserID: userID, UnreadOnly: unreadOnly, Limit: limit}
	var resp ListResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceList,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return resp.Notifications, nil
}

// MarkRead flags a notification as read.
func (a *NotificationsAdapter) MarkRead(ctx context.Context, id, userID string) error {
	req := MarkReadRequest{ID: id, UserID: userID}
	var resp MarkReadResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceMarkRead,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if !resp.Success {
		return ErrNotFound
	}
	return nil
}

// Package notifications stores notifications produced by feature code and
// announces them on the event bus for the hub to fan out.
package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/events"
)

// Validation errors.
var (
	ErrRecipientRequired = errors.New("user_id is required")
	ErrTitleRequired     = errors.New("title is required")
	ErrTitleTooLong      = errors.New("title exceeds maximum length")
	ErrBodyTooLong       = errors.New("body exceeds maximum length")
)

// NotificationsModule persists notifications and emits NotificationCreated.
type NotificationsModule struct {
	repo     *Repository
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*NotificationsModule)(nil)
var _ mono.ServiceProviderModule = (*NotificationsModule)(nil)
var _ mono.EventEmitterModule = (*NotificationsModule)(nil)

// NewModule creates a new NotificationsModule.
func NewModule(db *gorm.DB, logger types.Logger) *NotificationsModule {
	return &NotificationsModule{
		repo:   NewRepository(db),
		logger: logger.WithModule("notifications"),
	}
}

// Name returns the module name.
func (m *NotificationsModule) Name() string {
	return "notifications"
}

// SetEventBus receives the EventBus from the framework.
func (m *NotificationsModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *NotificationsModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.NotificationCreatedV1.ToBase(),
	}
}

// Start initializes the module.
func (m *NotificationsModule) Start(_ context.Context) error {
	m.logger.Info("Module started")
	return nil
}

// Stop shuts down the module.
func (m *NotificationsModule) Stop(_ context.Context) error {
	m.logger.Info("Module stopped")
	return nil
}

// RegisterServices registers request-reply services in the service container.
func (m *NotificationsModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCreate, json.Unmarshal, json.Marshal, m.handleCreate,
	); err != nil {
		return fmt.Errorf("failed to register create service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceList, json.Unmarshal, json.Marshal, m.handleList,
	); err != nil {
		return fmt.Errorf("failed to register list service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceMarkRead, json.Unmarshal, json.Marshal, m.handleMarkRead,
	); err != nil {
		return fmt.Errorf("failed to register mark-read service: %w", err)
	}

	m.logger.Info("Registered services", "services", "services.notifications.{create,list,mark-read}")
	return nil
}

// Create validates, stores and announces a notification.
func (m *NotificationsModule) Create(ctx context.Context, req CreateRequest) (*domain.Notification, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    strings.TrimSpace(req.UserID),
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		Kind:      req.Kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	// The record is durable either way; a failed publish only loses the live push.
	if m.eventBus != nil {
		event := events.NotificationCreatedEvent{Notification: *n}
		if err := events.NotificationCreatedV1.Publish(m.eventBus, event, nil); err != nil {
			m.logger.Warn("Failed to publish NotificationCreated event", "notificationID", n.ID, "error", err)
		}
	}

	m.logger.Info("Notification created", "notificationID", n.ID, "userID", n.UserID, "kind", n.Kind)
	return n, nil
}

func (m *NotificationsModule) handleCreate(ctx context.Context, req CreateRequest, _ *mono.Msg) (CreateResponse, error) {
	n, err := m.Create(ctx, req)
	if err != nil {
		return CreateResponse{}, err
	}
	return CreateResponse{Notification: *n}, nil
}

func (m *NotificationsModule) handleList(ctx context.Context, req ListRequest, _ *mono.Msg) (ListResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return ListResponse{}, ErrRecipientRequired
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	list, err := m.repo.ListByUser(ctx, req.UserID, req.UnreadOnly, limit)
	if err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Notifications: list}, nil
}

func (m *NotificationsModule) handleMarkRead(ctx context.Context, req MarkReadRequest, _ *mono.Msg) (MarkReadResponse, error) {
	if err := m.repo.MarkRead(ctx, req.ID, req.UserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return MarkReadResponse{Success: false, Message: err.Error()}, nil
		}
		return MarkReadResponse{}, err
	}
	return MarkReadResponse{Success: true}, nil
}

func validateCreate(req CreateRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return ErrRecipientRequired
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return ErrTitleRequired
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return ErrTitleTooLong
	}
	if utf8.RuneCountInString(req.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

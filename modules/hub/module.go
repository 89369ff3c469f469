package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/events"
	"github.com/example/realtime-hub/modules/auth"
	"github.com/example/realtime-hub/modules/store"
)

// Module exposes the hub to the rest of the application.
type Module struct {
	hub      *Hub
	eventBus mono.EventBus
	logger   types.Logger
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.DependentModule       = (*Module)(nil)
	_ mono.ServiceProviderModule = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the hub module on top of the socket table.
func NewModule(cfg Config, transport Transport, logger types.Logger) *Module {
	logger = logger.WithModule("hub")
	m := &Module{logger: logger}
	m.hub = New(cfg, transport, logger, WithPublisher(&busPublisher{m: m}))
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return "hub"
}

// Dependencies returns the modules whose services the hub calls.
func (m *Module) Dependencies() []string {
	return []string{"auth", "store"}
}

// SetDependencyServiceContainer wires the auth and store adapters.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.hub.auth = auth.NewAuthAdapter(container)
	case "store":
		m.hub.store = store.NewStoreAdapter(container)
	}
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.PresenceChangedV1.ToBase(),
		events.MessageSentV1.ToBase(),
	}
}

// RegisterEventConsumers subscribes to notifications created elsewhere.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.NotificationCreatedV1, m.handleNotificationCreated, m,
	); err != nil {
		return fmt.Errorf("failed to register NotificationCreated consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "NotificationCreated")
	return nil
}

func (m *Module) handleNotificationCreated(_ context.Context, event events.NotificationCreatedEvent, _ *mono.Msg) error {
	n := event.Notification
	if n.UserID == "" {
		m.logger.Warn("Dropping notification without recipient", "notificationID", n.ID)
		return nil
	}
	m.hub.Push(n.UserID, n)
	return nil
}

// RegisterServices registers request-reply services in the service container.
func (m *Module) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServicePush, json.Unmarshal, json.Marshal, m.handlePush,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServicePush, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceIsOnline, json.Unmarshal, json.Marshal, m.handleIsOnline,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceIsOnline, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceOnlineUsers, json.Unmarshal, json.Marshal, m.handleOnlineUsers,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceOnlineUsers, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceBroadcastRole, json.Unmarshal, json.Marshal, m.handleBroadcastRole,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceBroadcastRole, err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceBroadcastRoom, json.Unmarshal, json.Marshal, m.handleBroadcastRoom,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceBroadcastRoom, err)
	}

	m.logger.Info("Registered services", "services", "services.hub.{push,is-online,online-users,broadcast-role,broadcast-room}")
	return nil
}

func (m *Module) handlePush(_ context.Context, req PushRequest, _ *mono.Msg) (PushResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = req.Notification.UserID
	}
	if userID == "" {
		return PushResponse{}, errors.New("user_id is required")
	}
	return PushResponse{Delivered: m.hub.Push(userID, req.Notification)}, nil
}

func (m *Module) handleIsOnline(_ context.Context, req IsOnlineRequest, _ *mono.Msg) (IsOnlineResponse, error) {
	conns := m.hub.LiveConnectionsOf(req.UserID)
	return IsOnlineResponse{
		UserID:      req.UserID,
		Online:      len(conns) > 0,
		Connections: len(conns),
	}, nil
}

func (m *Module) handleOnlineUsers(_ context.Context, _ OnlineUsersRequest, _ *mono.Msg) (OnlineUsersResponse, error) {
	ids := m.hub.OnlineUserIDs()
	if ids == nil {
		ids = []string{}
	}
	return OnlineUsersResponse{UserIDs: ids, Count: len(ids)}, nil
}

func (m *Module) handleBroadcastRole(_ context.Context, req BroadcastRoleRequest, _ *mono.Msg) (BroadcastResponse, error) {
	if strings.TrimSpace(req.Role) == "" {
		return BroadcastResponse{}, errors.New("role is required")
	}
	if strings.TrimSpace(req.Event) == "" {
		return BroadcastResponse{}, errors.New("event is required")
	}
	return BroadcastResponse{Delivered: m.hub.BroadcastToRole(req.Role, req.Event, req.Payload)}, nil
}

func (m *Module) handleBroadcastRoom(_ context.Context, req BroadcastRoomRequest, _ *mono.Msg) (BroadcastResponse, error) {
	if strings.TrimSpace(req.Room) == "" {
		return BroadcastResponse{}, errors.New("room is required")
	}
	if strings.TrimSpace(req.Event) == "" {
		return BroadcastResponse{}, errors.New("event is required")
	}
	return BroadcastResponse{Delivered: m.hub.BroadcastToRoom(req.Room, req.Event, req.Payload)}, nil
}

// Start checks that both collaborators were wired.
func (m *Module) Start(_ context.Context) error {
	if err := m.hub.Ready(); err != nil {
		return fmt.Errorf("hub not ready: %w", err)
	}
	m.logger.Info("Module started",
		"authTimeout", m.hub.cfg.AuthTimeout,
		"handshakeTimeout", m.hub.cfg.HandshakeTimeout)
	return nil
}

// Stop disconnects every remaining connection.
func (m *Module) Stop(_ context.Context) error {
	open, _ := m.hub.Stats()
	m.hub.Shutdown()
	m.logger.Info("Module stopped", "closedConnections", open)
	return nil
}

// Health reports connection and presence counts.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	open, authenticated := m.hub.Stats()
	return mono.HealthStatus{
		Healthy: m.hub.Ready() == nil,
		Message: "operational",
		Details: map[string]any{
			"open_connections":          open,
			"authenticated_connections": authenticated,
			"online_users":              len(m.hub.OnlineUserIDs()),
		},
	}
}

// Hub returns the hub for the websocket transport.
func (m *Module) Hub() *Hub {
	return m.hub
}

// busPublisher forwards hub activity to the event bus.
type busPublisher struct {
	m *Module
}

func (p *busPublisher) PresenceChanged(userID string, online bool) {
	if p.m.eventBus == nil {
		return
	}
	event := events.PresenceChangedEvent{
		UserID:    userID,
		Online:    online,
		Timestamp: time.Now().UTC(),
	}
	if err := events.PresenceChangedV1.Publish(p.m.eventBus, event, nil); err != nil {
		p.m.logger.Warn("Failed to publish PresenceChanged event", "userID", userID, "error", err)
	}
}

func (p *busPublisher) MessageSent(msg *domain.Message, delivered bool) {
	if p.m.eventBus == nil {
		return
	}
	event := events.MessageSentEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Kind:       msg.Kind,
		Delivered:  delivered,
		Timestamp:  msg.CreatedAt,
	}
	if err := events.MessageSentV1.Publish(p.m.eventBus, event, nil); err != nil {
		p.m.logger.Warn("Failed to publish MessageSent event", "messageID", msg.ID, "error", err)
	}
}

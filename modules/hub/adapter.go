package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	domain "github.com/example/realtime-hub/domain/hub"
)

// HubPort is the hub API other modules call through the service container.
type HubPort interface {
	Push(ctx context.Context, userID string, notification domain.Notification) (int, error)
	IsOnline(ctx context.Context, userID string) (*IsOnlineResponse, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	BroadcastToRole(ctx context.Context, role, event string, payload json.RawMessage) (int, error)
	BroadcastToRoom(ctx context.Context, room, event string, payload json.RawMessage) (int, error)
}

// HubAdapter implements HubPort using the hub module's services.
type HubAdapter struct {
	container mono.ServiceContainer
}

// NewHubAdapter creates a new HubAdapter.
func NewHubAdapter(container mono.ServiceContainer) HubPort {
	if container == nil {
		panic("hub: ServiceContainer is nil")
	}
	return &HubAdapter{container: container}
}

// Push fans a notification out to a user's live connections.
func (a *HubAdapter) Push(ctx context.Context, userID string, notification domain.Notification) (int, error) {
	req := PushRequest{UserID: userID, Notification: notification}
	var resp PushResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServicePush,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return 0, fmt.Errorf("failed to push notification: %w", err)
	}
	return resp.Delivered, nil
}

// IsOnline reports a user's presence.
func (a *HubAdapter) IsOnline(ctx context.Context, userID string) (*IsOnlineResponse, error) {
	req := IsOnlineRequest{UserID: userID}
	var resp IsOnlineResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceIsOnline,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	return &resp, nil
}

// OnlineUsers lists every online user.
func (a *HubAdapter) OnlineUsers(ctx context.Context) ([]string, error) {
	req := OnlineUsersRequest{}
	var resp OnlineUsersResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceOnlineUsers,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return nil, fmt.Errorf("failed to list online users: %w", err)
	}
	return resp.UserIDs, nil
}

// BroadcastToRole sends an event to every connection of a role.
func (a *HubAdapter) BroadcastToRole(ctx context.Context, role, event string, payload json.RawMessage) (int, error) {
	req := BroadcastRoleRequest{Role: role, Event: event, Payload: payload}
	var resp BroadcastResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceBroadcastRole,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return 0, fmt.Errorf("failed to broadcast to role: %w", err)
	}
	return resp.Delivered, nil
}

// BroadcastToRoom sends an event to every member of a room.
func (a *HubAdapter) BroadcastToRoom(ctx context.Context, room, event string, payload json.RawMessage) (int, error) {
	req := BroadcastRoomRequest{Room: room, Event: event, Payload: payload}
	var resp BroadcastResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceBroadcastRoom,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return 0, fmt.Errorf("failed to broadcast to room: %w", err)
	}
	return resp.Delivered, nil
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/modules/auth"
	"github.com/example/realtime-hub/modules/hub"
	"github.com/example/realtime-hub/modules/notifications"
)

// mockLogger implements types.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(_ string, _ ...any) {}
func (m *mockLogger) Info(_ string, _ ...any)  {}
func (m *mockLogger) Warn(_ string, _ ...any)  {}
func (m *mockLogger) Error(_ string, _ ...any) {}
func (m *mockLogger) With(_ ...any) types.Logger {
	return m
}
func (m *mockLogger) WithModule(_ string) types.Logger {
	return m
}
func (m *mockLogger) WithError(_ error) types.Logger {
	return m
}

// mockAuthPort implements auth.AuthPort for testing
type mockAuthPort struct {
	resolveFunc func(ctx context.Context, token string) (*domain.Identity, error)

	mu      sync.Mutex
	upserts []auth.UpsertAccountRequest
}

func (m *mockAuthPort) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, token)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthPort) UpsertAccount(_ context.Context, req auth.UpsertAccountRequest) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = strings.Clone(req.ID)
	m.upserts = append(m.upserts, req)
	return &domain.Account{ID: req.ID, Role: req.Role, DisplayHandle: req.DisplayHandle, Active: req.Active}, nil
}

// tokenAuth resolves a fixed set of tokens.
func tokenAuth() *mockAuthPort {
	identities := map[string]domain.Identity{
		"token-alice": {UserID: "alice", Role: "customer", DisplayHandle: "Alice"},
		"token-admin": {UserID: "root", Role: RoleAdmin, DisplayHandle: "Root"},
	}
	return &mockAuthPort{
		resolveFunc: func(_ context.Context, token string) (*domain.Identity, error) {
			if token == "token-inactive" {
				return nil, domain.ErrAccountInactive
			}
			id, ok := identities[token]
			if !ok {
				return nil, domain.ErrInvalidCredentials
			}
			return &id, nil
		},
	}
}

type broadcastCall struct {
	Target  string
	Event   string
	Payload json.RawMessage
}

// Fiber hands out route params backed by a buffer it reuses after the
// request, so anything recorded past the handler is copied first.
func newBroadcastCall(target, event string, payload json.RawMessage) broadcastCall {
	return broadcastCall{
		Target:  strings.Clone(target),
		Event:   strings.Clone(event),
		Payload: append(json.RawMessage(nil), payload...),
	}
}

// mockHubPort implements hub.HubPort for testing
type mockHubPort struct {
	mu     sync.Mutex
	online map[string]int
	roles  []broadcastCall
	rooms  []broadcastCall
}

func (m *mockHubPort) Push(_ context.Context, userID string, _ domain.Notification) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online[userID], nil
}

func (m *mockHubPort) IsOnline(_ context.Context, userID string) (*hub.IsOnlineResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.online[userID]
	return &hub.IsOnlineResponse{UserID: userID, Online: n > 0, Connections: n}, nil
}

func (m *mockHubPort) OnlineUsers(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.online))
	for id := range m.online {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mockHubPort) BroadcastToRole(_ context.Context, role, event string, payload json.RawMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles = append(m.roles, newBroadcastCall(role, event, payload))
	return 3, nil
}

func (m *mockHubPort) BroadcastToRoom(_ context.Context, room, event string, payload json.RawMessage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms = append(m.rooms, newBroadcastCall(room, event, payload))
	return 1, nil
}

type historyCall struct {
	UserID, PeerID string
	Limit          int
}

// mockStorePort implements store.StorePort for testing
type mockStorePort struct {
	mu      sync.Mutex
	history []historyCall
}

func (m *mockStorePort) Append(_ context.Context, msg *domain.Message) (string, error) {
	return msg.ID, nil
}

func (m *mockStorePort) RecordReadReceipt(_ context.Context, _, _ string) (string, error) {
	return "", domain.ErrMessageNotFound
}

func (m *mockStorePort) History(_ context.Context, userID, peerID string, limit int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, historyCall{
		UserID: strings.Clone(userID),
		PeerID: strings.Clone(peerID),
		Limit:  limit,
	})
	return []domain.Message{
		{ID: "m1", SenderID: peerID, ReceiverID: userID, Content: "hi", Kind: domain.KindText, Status: domain.StatusDelivered},
	}, nil
}

// mockNotificationsPort implements notifications.NotificationsPort for testing
type mockNotificationsPort struct {
	mu      sync.Mutex
	created []notifications.CreateRequest
	read    []string
}

func (m *mockNotificationsPort) Create(_ context.Context, req notifications.CreateRequest) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.UserID = strings.Clone(req.UserID)
	req.Kind = strings.Clone(req.Kind)
	m.created = append(m.created, req)
	return &domain.Notification{
		ID:        "n1",
		UserID:    req.UserID,
		Title:     req.Title,
		Body:      req.Body,
		Kind:      req.Kind,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (m *mockNotificationsPort) List(_ context.Context, userID string, _ bool, _ int) ([]domain.Notification, error) {
	return []domain.Notification{{ID: "n1", UserID: userID, Title: "Welcome"}}, nil
}

func (m *mockNotificationsPort) MarkRead(_ context.Context, id, userID string) error {
	if id != "n1" {
		return notifications.ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.read = append(m.read, strings.Clone(userID))
	return nil
}

// mockSessions implements SessionHub for testing
type mockSessions struct {
	mu        sync.Mutex
	handled   []string
	throttled int
}

func (m *mockSessions) Connect(string) error { return nil }
func (m *mockSessions) Disconnect(string)    {}

func (m *mockSessions) Handle(_ context.Context, _ string, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = append(m.handled, string(raw))
}

func (m *mockSessions) Throttle(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttled++
}

func (m *mockSessions) Stats() (int, int) {
	return 2, 1
}

// scriptedReader replays frames, then fails like a closed socket.
type scriptedReader struct {
	frames []string
}

var errSocketClosed = errors.New("socket closed")

func (r *scriptedReader) ReadMessage() (int, []byte, error) {
	if len(r.frames) == 0 {
		return 0, nil, errSocketClosed
	}
	next := r.frames[0]
	r.frames = r.frames[1:]
	return 1, []byte(next), nil
}

// gatedConn holds every write until gate is closed.
type gatedConn struct {
	gate    chan struct{}
	mu      sync.Mutex
	started int
}

func (c *gatedConn) WriteMessage(_ int, _ []byte) error {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
	<-c.gate
	return nil
}

func (c *gatedConn) Close() error { return nil }

func (c *gatedConn) writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

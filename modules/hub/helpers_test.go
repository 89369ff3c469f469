package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/stretchr/testify/require"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/modules/broadcast"
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

// recordingConn captures frames written to one socket.
type recordingConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) ofType(eventType string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeAuth resolves tokens from a fixed table.
type fakeAuth struct {
	mu     sync.Mutex
	tokens map[string]domain.Identity
	hang   bool
	calls  int
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{tokens: make(map[string]domain.Identity)}
}

func (a *fakeAuth) add(token string, id domain.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = id
}

func (a *fakeAuth) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	a.mu.Lock()
	a.calls++
	hang := a.hang
	id, ok := a.tokens[token]
	a.mu.Unlock()

	if hang {
		// Ignores ctx on purpose: the hub must bound the call itself.
		time.Sleep(time.Second)
	}
	if !ok {
		return nil, domain.ErrInvalidCredentials
	}
	return &id, nil
}

// fakeStore keeps messages and receipts in memory.
type fakeStore struct {
	mu        sync.Mutex
	messages  []domain.Message
	receipts  map[string]string // messageID -> readerID
	failWrite error
	delay     time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{receipts: make(map[string]string)}
}

func (s *fakeStore) Append(_ context.Context, msg *domain.Message) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return "", s.failWrite
	}
	s.messages = append(s.messages, *msg)
	return msg.ID, nil
}

func (s *fakeStore) RecordReadReceipt(_ context.Context, messageID, readerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return "", s.failWrite
	}
	for _, m := range s.messages {
		if m.ID != messageID {
			continue
		}
		if m.ReceiverID != readerID {
			return "", domain.ErrNotRecipient
		}
		s.receipts[messageID] = readerID
		return m.SenderID, nil
	}
	return "", domain.ErrMessageNotFound
}

func (s *fakeStore) stored() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages...)
}

func (s *fakeStore) receipt(messageID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[messageID]
	return r, ok
}

var errStoreDown = errors.New("store unavailable")

type testEnv struct {
	hub   *Hub
	table *broadcast.Table
	auth  *fakeAuth
	store *fakeStore
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := Config{
		AuthTimeout:    200 * time.Millisecond,
		RegistryShards: 4,
		PairStripes:    8,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		table: broadcast.NewTable(256, &mockLogger{}),
		auth:  newFakeAuth(),
		store: newFakeStore(),
	}
	env.hub = New(cfg, env.table, &mockLogger{}, WithAuth(env.auth), WithStore(env.store))
	t.Cleanup(env.hub.Shutdown)

	env.auth.add("token-alice", domain.Identity{UserID: "alice", Role: "customer", DisplayHandle: "Alice"})
	env.auth.add("token-bob", domain.Identity{UserID: "bob", Role: "vendor", DisplayHandle: "Bob"})
	env.auth.add("token-carol", domain.Identity{UserID: "carol", Role: "admin", DisplayHandle: "Carol"})
	return env
}

func (e *testEnv) connect(t *testing.T, connID string) *recordingConn {
	t.Helper()
	conn := &recordingConn{}
	_, err := e.table.Add(connID, conn)
	require.NoError(t, err)
	require.NoError(t, e.hub.Connect(connID))
	return conn
}

func (e *testEnv) send(connID, eventType string, payload any) {
	body, _ := json.Marshal(payload)
	raw, _ := json.Marshal(Frame{Type: eventType, Payload: body})
	e.hub.Handle(context.Background(), connID, raw)
}

func (e *testEnv) login(t *testing.T, connID, token string) *recordingConn {
	t.Helper()
	conn := e.connect(t, connID)
	e.send(connID, EventAuthenticate, Authenticate{Token: token})
	waitFrames(t, conn, EventAuthenticated, 1)
	return conn
}

func waitFrames(t *testing.T, conn *recordingConn, eventType string, n int) []Frame {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(conn.ofType(eventType)) >= n
	}, time.Second, 2*time.Millisecond, "waiting for %d %q frames", n, eventType)
	return conn.ofType(eventType)
}

// settle gives write pumps time to flush frames that should not arrive.
func settle() {
	time.Sleep(30 * time.Millisecond)
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/example/realtime-hub/domain/hub"
)

func TestHub_AuthenticateAcknowledgesAndAutoJoins(t *testing.T) {
	env := newTestEnv(t)
	conn := env.login(t, "c1", "token-alice")

	ack := decode[authenticatedPayload](t, conn.ofType(EventAuthenticated)[0])
	assert.Equal(t, "alice", ack.Identity.UserID)
	assert.Equal(t, "customer", ack.Identity.Role)

	assert.Equal(t, []string{"c1"}, env.hub.RoomMembers(UserRoom("alice")))
	assert.Equal(t, []string{"c1"}, env.hub.RoomMembers(RoleRoom("customer")))
	assert.True(t, env.hub.IsOnline("alice"))
}

func TestHub_InvalidTokenKeepsConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "c1")

	env.send("c1", EventAuthenticate, Authenticate{Token: "forged"})
	frames := waitFrames(t, conn, EventAuthenticationError, 1)

	msg := decode[messagePayload](t, frames[0])
	assert.NotEmpty(t, msg.Message)
	assert.True(t, env.hub.registry.IsOpen("c1"))
	assert.False(t, conn.isClosed())

	// The client may retry on the same connection.
	env.send("c1", EventAuthenticate, Authenticate{Token: "token-alice"})
	waitFrames(t, conn, EventAuthenticated, 1)
	assert.True(t, env.hub.IsOnline("alice"))
}

func TestHub_EmptyTokenIsRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "c1")

	env.send("c1", EventAuthenticate, Authenticate{Token: "  "})
	waitFrames(t, conn, EventAuthenticationError, 1)

	env.auth.mu.Lock()
	defer env.auth.mu.Unlock()
	assert.Equal(t, 0, env.auth.calls)
}

func TestHub_AuthTimeoutForceClosesConnection(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AuthTimeout = 20 * time.Millisecond })
	env.auth.hang = true
	conn := env.connect(t, "c1")

	start := time.Now()
	env.send("c1", EventAuthenticate, Authenticate{Token: "token-alice"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.False(t, env.hub.registry.IsOpen("c1"))
	assert.Equal(t, 0, env.table.Count())
	assert.True(t, conn.isClosed())
	assert.False(t, env.hub.IsOnline("alice"))
}

func TestHub_HandshakeTimeoutClosesIdleConnection(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.HandshakeTimeout = 20 * time.Millisecond })
	idle := env.connect(t, "idle")
	env.login(t, "active", "token-alice")

	require.Eventually(t, idle.isClosed, time.Second, 5*time.Millisecond)
	assert.False(t, env.hub.registry.IsOpen("idle"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, env.hub.registry.IsOpen("active"))
}

func TestHub_ReauthenticateReplacesIdentity(t *testing.T) {
	env := newTestEnv(t)
	observer := env.login(t, "obs", "token-carol")
	conn := env.login(t, "c1", "token-alice")
	waitFrames(t, observer, EventUserOnline, 1)

	env.send("c1", EventAuthenticate, Authenticate{Token: "token-bob"})
	waitFrames(t, conn, EventAuthenticated, 2)

	id, ok := env.hub.registry.IdentityOf("c1")
	require.True(t, ok)
	assert.Equal(t, "bob", id.UserID)
	assert.False(t, env.hub.IsOnline("alice"))
	assert.True(t, env.hub.IsOnline("bob"))

	assert.Empty(t, env.hub.RoomMembers(UserRoom("alice")))
	assert.Empty(t, env.hub.RoomMembers(RoleRoom("customer")))
	assert.Equal(t, []string{"c1"}, env.hub.RoomMembers(UserRoom("bob")))
	assert.Equal(t, []string{"c1"}, env.hub.RoomMembers(RoleRoom("vendor")))

	offline := waitFrames(t, observer, EventUserOffline, 1)
	assert.Equal(t, "alice", decode[presencePayload](t, offline[0]).UserID)
	online := waitFrames(t, observer, EventUserOnline, 2)
	assert.Equal(t, "bob", decode[presencePayload](t, online[1]).UserID)

	// The re-authenticated connection hears about neither of its own identities.
	settle()
	assert.Empty(t, conn.ofType(EventUserOnline))
	assert.Empty(t, conn.ofType(EventUserOffline))
	require.NoError(t, env.hub.registry.checkConsistency())
}

// Scenario: two devices, presence stays online until the last one leaves.
func TestHub_MultiDevicePresence(t *testing.T) {
	env := newTestEnv(t)
	observer := env.login(t, "bob-1", "token-bob")

	env.login(t, "alice-phone", "token-alice")
	env.login(t, "alice-laptop", "token-alice")
	assert.True(t, env.hub.IsOnline("alice"))
	assert.Len(t, env.hub.LiveConnectionsOf("alice"), 2)

	env.hub.Disconnect("alice-phone")
	assert.True(t, env.hub.IsOnline("alice"))

	env.hub.Disconnect("alice-laptop")
	assert.False(t, env.hub.IsOnline("alice"))

	waitFrames(t, observer, EventUserOffline, 1)
	settle()
	assert.Len(t, observer.ofType(EventUserOnline), 1, "second device must not re-announce")
	assert.Len(t, observer.ofType(EventUserOffline), 1)
}

func TestHub_PresenceSkipsSelf(t *testing.T) {
	env := newTestEnv(t)
	first := env.login(t, "alice-1", "token-alice")
	env.login(t, "bob-1", "token-bob")

	env.hub.Disconnect("bob-1")
	waitFrames(t, first, EventUserOffline, 1)

	second := env.login(t, "alice-2", "token-alice")
	env.hub.Disconnect("alice-1")
	settle()
	assert.Empty(t, second.ofType(EventUserOffline))
	assert.Empty(t, second.ofType(EventUserOnline))
}

// Scenario: offline receiver gets nothing live, sender gets status "sent".
func TestHub_SendToOfflineReceiver(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "hello", ClientRef: "r1"})
	ack := decode[messageSentPayload](t, waitFrames(t, alice, EventMessageSent, 1)[0])

	assert.Equal(t, domain.StatusSent, ack.Status)
	assert.Equal(t, "r1", ack.ClientRef)
	stored := env.store.stored()
	require.Len(t, stored, 1)
	assert.Equal(t, ack.ID, stored[0].ID)
	assert.Equal(t, "bob", stored[0].ReceiverID)
	assert.Equal(t, domain.KindText, stored[0].Kind)

	// Bob connecting later receives no retroactive delivery.
	bob := env.login(t, "bob-1", "token-bob")
	settle()
	assert.Empty(t, bob.ofType(EventNewMessage))
}

// Scenario: receiver with two devices gets one new-message on each.
func TestHub_SendFansOutToEveryReceiverDevice(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")
	bob1 := env.login(t, "bob-1", "token-bob")
	bob2 := env.login(t, "bob-2", "token-bob")

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "hi bob", Kind: domain.KindText})
	ack := decode[messageSentPayload](t, waitFrames(t, alice, EventMessageSent, 1)[0])
	assert.Equal(t, domain.StatusDelivered, ack.Status)

	m1 := decode[newMessagePayload](t, waitFrames(t, bob1, EventNewMessage, 1)[0])
	m2 := decode[newMessagePayload](t, waitFrames(t, bob2, EventNewMessage, 1)[0])
	settle()

	assert.Len(t, bob1.ofType(EventNewMessage), 1)
	assert.Len(t, bob2.ofType(EventNewMessage), 1)
	assert.Equal(t, ack.ID, m1.ID)
	assert.Equal(t, m1.ID, m2.ID)
	assert.Equal(t, "alice", m1.SenderID)
	assert.False(t, m1.CreatedAt.IsZero())
	assert.Empty(t, alice.ofType(EventNewMessage))
}

// Scenario: read receipt reaches the online sender once; offline sender is not an error.
func TestHub_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")
	bob := env.login(t, "bob-1", "token-bob")

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "read me"})
	msg := decode[newMessagePayload](t, waitFrames(t, bob, EventNewMessage, 1)[0])

	env.send("bob-1", EventMarkRead, MarkRead{MessageID: msg.ID})
	receipt := decode[readReceiptPayload](t, waitFrames(t, alice, EventReadReceipt, 1)[0])
	assert.Equal(t, msg.ID, receipt.MessageID)
	assert.Equal(t, "bob", receipt.ReaderID)
	settle()
	assert.Len(t, alice.ofType(EventReadReceipt), 1)

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "second"})
	second := decode[newMessagePayload](t, waitFrames(t, bob, EventNewMessage, 2)[1])
	env.hub.Disconnect("alice-1")

	env.send("bob-1", EventMarkRead, MarkRead{MessageID: second.ID})
	settle()
	reader, ok := env.store.receipt(second.ID)
	assert.True(t, ok)
	assert.Equal(t, "bob", reader)
	assert.Empty(t, bob.ofType(EventError))
}

func TestHub_MarkReadRejections(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice-1", "token-alice")
	bob := env.login(t, "bob-1", "token-bob")
	carol := env.login(t, "carol-1", "token-carol")

	env.send("bob-1", EventMarkRead, MarkRead{MessageID: "does-not-exist"})
	notFound := decode[errorPayload](t, waitFrames(t, bob, EventError, 1)[0])
	assert.Equal(t, CodeValidationFailed, notFound.Code)

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "private"})
	msg := decode[newMessagePayload](t, waitFrames(t, bob, EventNewMessage, 1)[0])

	env.send("carol-1", EventMarkRead, MarkRead{MessageID: msg.ID})
	notRecipient := decode[errorPayload](t, waitFrames(t, carol, EventError, 1)[0])
	assert.Equal(t, CodeValidationFailed, notRecipient.Code)
	assert.Equal(t, "messageId", notRecipient.Field)
}

// Scenario: unauthenticated send is refused and nothing is stored.
func TestHub_UnauthenticatedSendIsRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "anon")

	env.send("anon", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "sneaky"})
	waitFrames(t, conn, EventAuthenticationError, 1)

	assert.Empty(t, env.store.stored())
	assert.Empty(t, conn.ofType(EventMessageSent))
}

func TestHub_UnauthenticatedOperationsAllRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "anon")

	env.send("anon", EventTypingStart, Typing{ReceiverID: "bob"})
	env.send("anon", EventMarkRead, MarkRead{MessageID: "m1"})
	env.send("anon", EventJoinRoom, JoinRoom{RoomID: "vendor:1"})
	env.send("anon", EventLeaveRoom, LeaveRoom{RoomID: "vendor:1"})

	waitFrames(t, conn, EventAuthenticationError, 4)
	assert.Empty(t, env.hub.RoomMembers("vendor:1"))
}

func TestHub_SendValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")

	tests := []struct {
		name  string
		req   SendMessage
		field string
	}{
		{"empty content", SendMessage{ReceiverID: "bob", Content: ""}, "content"},
		{"whitespace content", SendMessage{ReceiverID: "bob", Content: "   \n"}, "content"},
		{"missing receiver", SendMessage{Content: "hi"}, "receiverId"},
		{"unknown kind", SendMessage{ReceiverID: "bob", Content: "hi", Kind: "video"}, "kind"},
		{"too long", SendMessage{ReceiverID: "bob", Content: string(make([]rune, MaxContentLength+1))}, "content"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env.send("alice-1", EventSendMessage, tt.req)
			frames := waitFrames(t, alice, EventError, i+1)
			got := decode[errorPayload](t, frames[i])
			assert.Equal(t, CodeValidationFailed, got.Code)
			assert.Equal(t, tt.field, got.Field)
		})
	}
	assert.Empty(t, env.store.stored())
}

func TestHub_PersistenceFailureIsNotDelivered(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")
	bob := env.login(t, "bob-1", "token-bob")
	env.store.failWrite = errStoreDown

	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "lost?"})
	got := decode[errorPayload](t, waitFrames(t, alice, EventError, 1)[0])
	assert.Equal(t, CodePersistenceFailed, got.Code)

	settle()
	assert.Empty(t, alice.ofType(EventMessageSent))
	assert.Empty(t, bob.ofType(EventNewMessage))
}

// For one sender/receiver pair the receiver sees messages in persistence order,
// even when the sender writes from two devices at once.
func TestHub_PairOrderingMatchesPersistence(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice-1", "token-alice")
	env.login(t, "alice-2", "token-alice")
	bob := env.login(t, "bob-1", "token-bob")
	env.store.delay = time.Millisecond

	const perDevice = 20
	var wg sync.WaitGroup
	for _, connID := range []string{"alice-1", "alice-2"} {
		wg.Add(1)
		go func(connID string) {
			defer wg.Done()
			for i := range perDevice {
				env.send(connID, EventSendMessage, SendMessage{ReceiverID: "bob", Content: fmt.Sprintf("%s-%d", connID, i)})
			}
		}(connID)
	}
	wg.Wait()

	frames := waitFrames(t, bob, EventNewMessage, 2*perDevice)
	stored := env.store.stored()
	require.Len(t, stored, 2*perDevice)
	for i, f := range frames {
		assert.Equal(t, stored[i].ID, decode[newMessagePayload](t, f).ID, "position %d", i)
	}
}

func TestHub_TypingRelay(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")
	bob := env.login(t, "bob-1", "token-bob")

	env.send("alice-1", EventTypingStart, Typing{ReceiverID: "bob"})
	env.send("alice-1", EventTypingStop, Typing{ReceiverID: "bob"})

	frames := waitFrames(t, bob, EventUserTyping, 2)
	start := decode[userTypingPayload](t, frames[0])
	stop := decode[userTypingPayload](t, frames[1])
	assert.Equal(t, "alice", start.SenderID)
	assert.True(t, start.IsTyping)
	assert.False(t, stop.IsTyping)

	settle()
	assert.Empty(t, alice.ofType(EventUserTyping))
	assert.Empty(t, alice.ofType(EventError), "typing is never acknowledged")
	assert.Empty(t, env.store.stored())
}

func TestHub_RoomJoinLeave(t *testing.T) {
	env := newTestEnv(t)
	conn := env.login(t, "c1", "token-alice")

	env.send("c1", EventJoinRoom, JoinRoom{RoomID: "vendor:42"})
	env.send("c1", EventJoinRoom, JoinRoom{RoomID: "vendor:42"})
	waitFrames(t, conn, EventRoomJoined, 2)
	assert.Equal(t, []string{"c1"}, env.hub.RoomMembers("vendor:42"))

	env.send("c1", EventLeaveRoom, LeaveRoom{RoomID: "venue:9"})
	left := decode[roomPayload](t, waitFrames(t, conn, EventRoomLeft, 1)[0])
	assert.Equal(t, "venue:9", left.RoomID)
	assert.Empty(t, conn.ofType(EventError))

	env.send("c1", EventLeaveRoom, LeaveRoom{RoomID: "vendor:42"})
	waitFrames(t, conn, EventRoomLeft, 2)
	assert.Empty(t, env.hub.RoomMembers("vendor:42"))
}

func TestHub_ReservedRoomsAreRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.login(t, "c1", "token-alice")

	for i, room := range []string{"user:bob", "role:admin", presenceRoom, "", "vendor:"} {
		env.send("c1", EventJoinRoom, JoinRoom{RoomID: room})
		got := decode[errorPayload](t, waitFrames(t, conn, EventError, i+1)[i])
		assert.Equal(t, CodeValidationFailed, got.Code, room)
	}
	assert.Empty(t, env.hub.RoomMembers(UserRoom("bob")))
}

func TestHub_DisconnectVoidsRooms(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "c1", "token-alice")
	env.send("c1", EventJoinRoom, JoinRoom{RoomID: "chat:lobby"})
	require.Eventually(t, func() bool { return len(env.hub.RoomMembers("chat:lobby")) == 1 }, time.Second, time.Millisecond)

	env.hub.Disconnect("c1")
	env.hub.Disconnect("c1")

	assert.Empty(t, env.hub.RoomMembers("chat:lobby"))
	assert.Empty(t, env.hub.RoomMembers(UserRoom("alice")))
	assert.Empty(t, env.hub.RoomMembers(RoleRoom("customer")))
	assert.Empty(t, env.hub.LiveConnectionsOf("alice"))
}

func TestHub_PushFanOut(t *testing.T) {
	env := newTestEnv(t)
	devices := []*recordingConn{
		env.login(t, "alice-1", "token-alice"),
		env.login(t, "alice-2", "token-alice"),
		env.login(t, "alice-3", "token-alice"),
	}
	other := env.login(t, "bob-1", "token-bob")

	n := domain.Notification{ID: "n1", UserID: "alice", Title: "Booking confirmed", Kind: "booking"}
	assert.Equal(t, 3, env.hub.Push("alice", n))

	for _, d := range devices {
		got := decode[domain.Notification](t, waitFrames(t, d, EventNewNotification, 1)[0])
		assert.Equal(t, "Booking confirmed", got.Title)
	}
	settle()
	for _, d := range devices {
		assert.Len(t, d.ofType(EventNewNotification), 1)
	}
	assert.Empty(t, other.ofType(EventNewNotification))

	assert.Equal(t, 0, env.hub.Push("nobody", n))
}

func TestHub_BroadcastToRoleAndRoom(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "carol-1", "token-carol")
	customer := env.login(t, "alice-1", "token-alice")
	env.send("alice-1", EventJoinRoom, JoinRoom{RoomID: "venue:7"})
	waitFrames(t, customer, EventRoomJoined, 1)

	payload := json.RawMessage(`{"text":"maintenance at 2am"}`)
	assert.Equal(t, 1, env.hub.BroadcastToRole("admin", "announcement", payload))
	assert.Equal(t, 1, env.hub.BroadcastToRoom("venue:7", "venue-update", payload))
	assert.Equal(t, 0, env.hub.BroadcastToRoom("venue:unknown", "venue-update", payload))

	got := waitFrames(t, admin, "announcement", 1)
	assert.JSONEq(t, string(payload), string(got[0].Payload))
	waitFrames(t, customer, "venue-update", 1)
	assert.Empty(t, customer.ofType("announcement"))
}

func TestHub_BroadcastRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	customer := env.login(t, "alice-1", "token-alice")
	env.send("alice-1", EventJoinRoom, JoinRoom{RoomID: "venue:7"})
	waitFrames(t, customer, EventRoomJoined, 1)

	assert.Equal(t, 0, env.hub.BroadcastToRoom("venue:7", "venue-update", json.RawMessage(`{"text":`)))
	settle()
	assert.Empty(t, customer.ofType("venue-update"))
	assert.False(t, customer.isClosed())

	assert.Equal(t, 1, env.hub.BroadcastToRoom("venue:7", "venue-update", json.RawMessage(`{"text":"ok"}`)))
	waitFrames(t, customer, "venue-update", 1)
}

func TestHub_MalformedAndUnknownFrames(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "c1")

	env.hub.Handle(context.Background(), "c1", []byte("{not json"))
	env.send("c1", "teleport", map[string]string{"to": "mars"})

	frames := waitFrames(t, conn, EventError, 2)
	assert.Equal(t, CodeMalformedFrame, decode[errorPayload](t, frames[0]).Code)
	assert.Equal(t, CodeUnknownEvent, decode[errorPayload](t, frames[1]).Code)
	assert.True(t, env.hub.registry.IsOpen("c1"))
}

func TestHub_ShutdownClosesEverySocket(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login(t, "alice-1", "token-alice")
	idle := env.connect(t, "idle-1")

	env.hub.Shutdown()

	assert.Eventually(t, func() bool {
		return alice.isClosed() && idle.isClosed()
	}, time.Second, 2*time.Millisecond)
	open, authenticated := env.hub.Stats()
	assert.Zero(t, open)
	assert.Zero(t, authenticated)
	assert.False(t, env.hub.IsOnline("alice"))
	assert.Zero(t, env.table.Count())
}

func TestHub_Throttle(t *testing.T) {
	env := newTestEnv(t)
	conn := env.connect(t, "c1")

	env.hub.Throttle("c1")

	frames := waitFrames(t, conn, EventError, 1)
	assert.Equal(t, CodeRateLimited, decode[errorPayload](t, frames[0]).Code)
	assert.True(t, env.hub.registry.IsOpen("c1"))
}

type recordingPublisher struct {
	mu       sync.Mutex
	presence []PresenceTransition
	sent     []string
}

func (p *recordingPublisher) PresenceChanged(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presence = append(p.presence, PresenceTransition{UserID: userID, Online: online})
}

func (p *recordingPublisher) MessageSent(msg *domain.Message, _ bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg.ID)
}

func TestHub_PublishesActivity(t *testing.T) {
	env := newTestEnv(t)
	pub := &recordingPublisher{}
	env.hub.publisher = pub

	alice := env.login(t, "alice-1", "token-alice")
	env.send("alice-1", EventSendMessage, SendMessage{ReceiverID: "bob", Content: "hey"})
	waitFrames(t, alice, EventMessageSent, 1)
	env.hub.Disconnect("alice-1")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []PresenceTransition{{UserID: "alice", Online: true}, {UserID: "alice", Online: false}}, pub.presence)
	assert.Len(t, pub.sent, 1)
}

func TestHub_ReadyRequiresCollaborators(t *testing.T) {
	h := New(DefaultConfig(), nil, &mockLogger{})
	assert.Error(t, h.Ready())

	h = New(DefaultConfig(), nil, &mockLogger{}, WithAuth(newFakeAuth()), WithStore(newFakeStore()))
	assert.NoError(t, h.Ready())
}

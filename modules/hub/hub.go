package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"

	domain "github.com/example/realtime-hub/domain/hub"
)

// Config tunes the hub.
type Config struct {
	AuthTimeout      time.Duration
	HandshakeTimeout time.Duration // zero disables the handshake deadline
	RegistryShards   int
	PairStripes      int
}

// DefaultConfig returns the defaults used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		AuthTimeout:      5 * time.Second,
		HandshakeTimeout: 30 * time.Second,
		RegistryShards:   32,
		PairStripes:      64,
	}
}

// Hub coordinates connections, presence, rooms, direct messages and fan-out
// for one process.
type Hub struct {
	cfg       Config
	transport Transport
	auth      AuthCollaborator
	store     MessageStore
	publisher Publisher
	logger    types.Logger

	registry *Registry
	rooms    *Rooms
	presence *Presence
	router   *Router
	signals  *Signals
	notifier *Notifier

	handshakes sync.Map // connID -> *time.Timer
}

// Option configures optional collaborators.
type Option func(*Hub)

// WithPublisher forwards presence and message activity to p.
func WithPublisher(p Publisher) Option {
	return func(h *Hub) {
		h.publisher = p
	}
}

// WithAuth sets the auth collaborator.
func WithAuth(auth AuthCollaborator) Option {
	return func(h *Hub) {
		h.auth = auth
	}
}

// WithStore sets the message store.
func WithStore(store MessageStore) Option {
	return func(h *Hub) {
		h.store = store
	}
}

// New creates a hub on top of a transport.
func New(cfg Config, transport Transport, logger types.Logger, opts ...Option) *Hub {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultConfig().AuthTimeout
	}

	h := &Hub{
		cfg:       cfg,
		transport: transport,
		publisher: noopPublisher{},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.presence = NewPresence(nil, transport)
	h.registry = NewRegistry(cfg.RegistryShards, h.presence.broadcast)
	h.presence.registry = h.registry
	h.rooms = NewRooms(transport)
	h.router = NewRouter(h.registry, transport, storeProxy{h}, cfg.PairStripes)
	h.signals = NewSignals(h.registry, transport, logger)
	h.notifier = NewNotifier(h.registry, transport, logger)
	return h
}

// storeProxy lets collaborators be attached after construction.
type storeProxy struct{ h *Hub }

func (p storeProxy) Append(ctx context.Context, msg *domain.Message) (string, error) {
	if p.h.store == nil {
		return "", errors.New("message store not configured")
	}
	return p.h.store.Append(ctx, msg)
}

func (p storeProxy) RecordReadReceipt(ctx context.Context, messageID, readerID string) (string, error) {
	if p.h.store == nil {
		return "", errors.New("message store not configured")
	}
	return p.h.store.RecordReadReceipt(ctx, messageID, readerID)
}

// Ready reports whether both external collaborators are attached.
func (h *Hub) Ready() error {
	if h.auth == nil {
		return errors.New("auth collaborator not configured")
	}
	if h.store == nil {
		return errors.New("message store not configured")
	}
	return nil
}

// Connect registers a new transport connection. It must authenticate within
// the handshake timeout or it is closed.
func (h *Hub) Connect(connID string) error {
	if err := h.registry.Open(connID); err != nil {
		return err
	}

	if h.cfg.HandshakeTimeout > 0 {
		timer := time.AfterFunc(h.cfg.HandshakeTimeout, func() {
			h.handshakes.Delete(connID)
			if !h.registry.ForgetIfUnauthenticated(connID) {
				return
			}
			h.transport.Remove(connID)
			h.logger.Warn("Handshake timeout, closing connection", "connID", connID)
		})
		h.handshakes.Store(connID, timer)
	}

	h.logger.Debug("Connection opened", "connID", connID)
	return nil
}

// Disconnect forgets a connection, closes its socket and voids its rooms.
// Safe to call more than once.
func (h *Hub) Disconnect(connID string) {
	h.stopHandshake(connID)

	openedAt, _ := h.registry.OpenedAt(connID)
	id, changes, existed := h.registry.Forget(connID)
	h.transport.Remove(connID)
	if !existed {
		return
	}

	h.publishPresence(changes)
	if id != nil {
		h.logger.Info("Connection closed",
			"connID", connID,
			"userID", id.UserID,
			"duration", time.Since(openedAt).Round(time.Millisecond))
	} else {
		h.logger.Debug("Unauthenticated connection closed", "connID", connID)
	}
}

// Shutdown disconnects every connection.
func (h *Hub) Shutdown() {
	for _, connID := range h.registry.ConnectionIDs() {
		h.Disconnect(connID)
	}
}

// Handle processes one inbound frame from a connection. Failures are reported
// to that connection only and never escape to the caller.
func (h *Hub) Handle(ctx context.Context, connID string, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic while handling frame", "connID", connID, "panic", rec)
			h.replyError(connID, CodeInternal, "internal error", "")
		}
	}()

	in, err := DecodeInbound(raw)
	if err != nil {
		h.reply(connID, err)
		return
	}
	h.dispatch(ctx, connID, in)
}

// Throttle tells a connection that its frame was dropped by the transport's rate limit.
func (h *Hub) Throttle(connID string) {
	h.replyError(connID, CodeRateLimited, "too many frames, slow down", "")
}

func (h *Hub) dispatch(ctx context.Context, connID string, in Inbound) {
	if ev, ok := in.(Authenticate); ok {
		h.authenticate(ctx, connID, ev)
		return
	}

	id, ok := h.registry.IdentityOf(connID)
	if !ok {
		h.reply(connID, ErrUnauthenticated)
		return
	}

	switch ev := in.(type) {
	case SendMessage:
		h.sendMessage(ctx, connID, *id, ev)
	case Typing:
		if _, err := h.signals.Typing(*id, ev); err != nil {
			h.reply(connID, err)
		}
	case MarkRead:
		if _, err := h.router.MarkRead(ctx, *id, ev); err != nil {
			h.reply(connID, err)
		}
	case JoinRoom:
		h.joinRoom(connID, ev)
	case LeaveRoom:
		h.leaveRoom(connID, ev)
	default:
		h.logger.Error("Unhandled inbound event", "connID", connID, "type", ev)
		h.replyError(connID, CodeUnknownEvent, "unsupported event", "")
	}
}

// Authenticate resolves a token for a connection and binds the identity.
// A rejected token leaves the connection open; an auth timeout closes it.
func (h *Hub) Authenticate(ctx context.Context, connID, token string) (*domain.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &AuthenticationError{Err: domain.ErrInvalidCredentials}
	}
	if h.auth == nil {
		return nil, &AuthenticationError{Err: errors.New("auth collaborator not configured")}
	}

	identity, err := h.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, ErrAuthTimeout) {
			h.logger.Warn("Auth collaborator timed out, closing connection", "connID", connID)
			h.Disconnect(connID)
			return nil, err
		}
		return nil, &AuthenticationError{Err: err}
	}

	// Presence events skip the subject user's room, so the connection must be
	// in its new user room before Bind announces the user online.
	self := UserRoom(identity.UserID)
	joined, _ := h.transport.Join(connID, self)

	prev, changes, err := h.registry.Bind(connID, *identity)
	if err != nil {
		if joined {
			h.transport.Leave(connID, self)
		}
		return nil, err
	}
	h.stopHandshake(connID)

	if prev != nil {
		h.rooms.autoLeave(connID, *prev, *identity)
	}
	if err := h.rooms.autoJoin(connID, *identity); err != nil {
		h.logger.Warn("Auto-join failed", "connID", connID, "error", err)
	}
	h.publishPresence(changes)

	h.logger.Info("Connection authenticated",
		"connID", connID,
		"userID", identity.UserID,
		"role", identity.Role,
		"reauthenticated", prev != nil)
	return identity, nil
}

// resolve bounds the collaborator call even if it ignores its context.
func (h *Hub) resolve(ctx context.Context, token string) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	type result struct {
		identity *domain.Identity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		identity, err := h.auth.Resolve(ctx, token)
		done <- result{identity, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) {
				return nil, ErrAuthTimeout
			}
			return nil, res.err
		}
		if res.identity == nil || res.identity.UserID == "" {
			return nil, domain.ErrInvalidCredentials
		}
		return res.identity, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrAuthTimeout
		}
		return nil, ctx.Err()
	}
}

func (h *Hub) authenticate(ctx context.Context, connID string, ev Authenticate) {
	identity, err := h.Authenticate(ctx, connID, ev.Token)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			h.logger.Info("Authentication rejected", "connID", connID, "error", authErr.Err)
			h.emit(connID, EventAuthenticationError, messagePayload{Message: "invalid or expired session"})
		}
		return
	}
	h.emit(connID, EventAuthenticated, authenticatedPayload{Identity: *identity})
}

func (h *Hub) sendMessage(ctx context.Context, connID string, sender domain.Identity, ev SendMessage) {
	res, err := h.router.Send(ctx, sender, ev)
	if err != nil {
		h.logger.Warn("Send rejected", "connID", connID, "senderID", sender.UserID, "error", err)
		h.reply(connID, err)
		return
	}

	h.emit(connID, EventMessageSent, messageSentPayload{
		ID:        res.Message.ID,
		Status:    res.Status(),
		ClientRef: ev.ClientRef,
	})
	h.publisher.MessageSent(res.Message, res.Delivered > 0)
}

func (h *Hub) joinRoom(connID string, ev JoinRoom) {
	room, err := validateClientRoom(ev.RoomID)
	if err != nil {
		h.reply(connID, err)
		return
	}
	if _, err := h.rooms.Join(connID, room); err != nil {
		h.logger.Debug("Join on closed connection", "connID", connID, "room", room)
		return
	}
	h.emit(connID, EventRoomJoined, roomPayload{RoomID: room})
}

func (h *Hub) leaveRoom(connID string, ev LeaveRoom) {
	room, err := validateClientRoom(ev.RoomID)
	if err != nil {
		h.reply(connID, err)
		return
	}
	h.rooms.Leave(connID, room)
	h.emit(connID, EventRoomLeft, roomPayload{RoomID: room})
}

// Push fans a notification out to every live connection of a user.
func (h *Hub) Push(userID string, notification domain.Notification) int {
	return h.notifier.Push(userID, notification)
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	return h.presence.IsOnline(userID)
}

// OnlineUserIDs returns every online user.
func (h *Hub) OnlineUserIDs() []string {
	return h.presence.OnlineUserIDs()
}

// LiveConnectionsOf returns a user's live connection ids.
func (h *Hub) LiveConnectionsOf(userID string) []string {
	return h.registry.LiveConnectionsOf(userID)
}

// BroadcastToRole sends an event to every connection of a role.
func (h *Hub) BroadcastToRole(role, event string, payload json.RawMessage) int {
	return h.notifier.BroadcastToRole(role, event, payload)
}

// BroadcastToRoom sends an event to a room's current members.
func (h *Hub) BroadcastToRoom(room, event string, payload json.RawMessage) int {
	return h.notifier.BroadcastToRoom(room, event, payload)
}

// RoomMembers asks the transport which connections are in a room.
func (h *Hub) RoomMembers(room string) []string {
	return h.rooms.Members(room)
}

// Stats reports open and authenticated connection counts.
func (h *Hub) Stats() (open, authenticated int) {
	return h.registry.Stats()
}

func (h *Hub) stopHandshake(connID string) {
	if v, ok := h.handshakes.LoadAndDelete(connID); ok {
		v.(*time.Timer).Stop()
	}
}

func (h *Hub) publishPresence(changes []PresenceTransition) {
	for _, c := range changes {
		h.publisher.PresenceChanged(c.UserID, c.Online)
	}
}

func (h *Hub) emit(connID, event string, payload any) {
	h.transport.Emit(connID, encodeFrame(event, payload))
}

// reply converts an operation error into a response frame for one connection.
func (h *Hub) reply(connID string, err error) {
	var (
		validationErr  *ValidationError
		persistenceErr *PersistenceError
		protocolErr    *ProtocolError
		authErr        *AuthenticationError
	)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		h.emit(connID, EventAuthenticationError, messagePayload{Message: ErrUnauthenticated.Error()})
	case errors.As(err, &authErr):
		h.emit(connID, EventAuthenticationError, messagePayload{Message: "invalid or expired session"})
	case errors.As(err, &validationErr):
		h.replyError(connID, CodeValidationFailed, validationErr.Reason, validationErr.Field)
	case errors.As(err, &persistenceErr):
		h.logger.Error("Persistence failure", "connID", connID, "op", persistenceErr.Op, "error", persistenceErr.Err)
		h.replyError(connID, CodePersistenceFailed, "message could not be stored, try again", "")
	case errors.As(err, &protocolErr):
		h.replyError(connID, protocolErr.Code, protocolErr.Reason, "")
	default:
		h.logger.Error("Unexpected error", "connID", connID, "error", err)
		h.replyError(connID, CodeInternal, "internal error", "")
	}
}

func (h *Hub) replyError(connID, code, message, field string) {
	h.emit(connID, EventError, errorPayload{Code: code, Message: message, Field: field})
}

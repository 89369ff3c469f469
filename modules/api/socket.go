package api

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/realtime-hub/modules/broadcast"
)

// maxFrameBytes caps one inbound websocket frame.
const maxFrameBytes = 64 * 1024

// SessionHub is the part of the hub the websocket transport drives.
type SessionHub interface {
	Connect(connID string) error
	Handle(ctx context.Context, connID string, raw []byte)
	Throttle(connID string)
	Disconnect(connID string)
	Stats() (open, authenticated int)
}

type frameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (m *APIModule) websocketHandler() fiber.Handler {
	return websocket.New(m.serveSocket)
}

// serveSocket owns one websocket for its whole life. The socket table writes,
// this goroutine reads, and the hub decides what each frame means.
func (m *APIModule) serveSocket(c *websocket.Conn) {
	connID := uuid.NewString()

	socket, err := m.sockets.Add(connID, c)
	if err != nil {
		m.logger.Error("Failed to register socket", "connID", connID, "error", err)
		_ = c.Close()
		return
	}
	defer m.release(socket)

	if err := m.sessions.Connect(connID); err != nil {
		m.logger.Error("Failed to open session", "connID", connID, "error", err)
		return
	}
	defer m.sessions.Disconnect(connID)

	c.SetReadLimit(maxFrameBytes)
	m.readLoop(connID, c, rate.NewLimiter(rate.Limit(m.cfg.FrameRate), m.cfg.FrameBurst))
}

// release closes a socket and waits for its write pump to exit. The websocket
// middleware recycles the connection once the handler returns, so no write may
// still be running by then.
func (m *APIModule) release(socket *broadcast.Socket) {
	m.sockets.Remove(socket.ID())
	<-socket.Stopped()
}

// readLoop feeds frames to the hub until the socket fails or is closed.
// Frames over the limiter's budget are dropped and the client is told so.
func (m *APIModule) readLoop(connID string, r frameReader, limiter *rate.Limiter) {
	for {
		_, raw, err := r.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				m.logger.Warn("WebSocket read error", "connID", connID, "error", err)
			}
			return
		}

		if !limiter.Allow() {
			m.sessions.Throttle(connID)
			continue
		}
		m.sessions.Handle(m.ctx, connID, raw)
	}
}

package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/realtime-hub/modules/auth"
	"github.com/example/realtime-hub/modules/notifications"
)

const maxEventNameLength = 64

// setupRoutes configures all HTTP routes.
func (m *APIModule) setupRoutes(app *fiber.App) {
	app.Get("/health", m.healthHandler)

	// WebSocket endpoint
	app.Use("/ws", upgradeOnly)
	app.Get("/ws", m.websocketHandler())

	v1 := app.Group("/api/v1", AuthMiddleware(m.authAdapter))

	v1.Get("/presence", m.onlineUsers)
	v1.Get("/presence/:userId", m.presenceOf)
	v1.Get("/messages", m.history)
	v1.Get("/notifications", m.listNotifications)
	v1.Put("/notifications/:id/read", m.markNotificationRead)

	admin := RequireRole(RoleAdmin)
	v1.Post("/broadcast/role/:role", admin, m.broadcastToRole)
	v1.Post("/broadcast/room/:room", admin, m.broadcastToRoom)
	v1.Post("/notifications", admin, m.createNotification)
	v1.Put("/accounts/:id", admin, m.upsertAccount)
}

// healthHandler handles GET /health.
func (m *APIModule) healthHandler(c *fiber.Ctx) error {
	open, authenticated := m.sessions.Stats()
	return c.JSON(HealthResponse{
		Status: "healthy",
		Details: map[string]any{
			"module":        "api",
			"sockets":       m.sockets.Count(),
			"connections":   open,
			"authenticated": authenticated,
			"frame_rate":    m.cfg.FrameRate,
			"frame_burst":   m.cfg.FrameBurst,
		},
	})
}

// onlineUsers handles GET /api/v1/presence.
func (m *APIModule) onlineUsers(c *fiber.Ctx) error {
	ids, err := m.hubAdapter.OnlineUsers(c.UserContext())
	if err != nil {
		return m.internalError(c, "presence_failed", "Failed to list online users", err)
	}
	return c.JSON(OnlineUsersResponse{UserIDs: ids, Count: len(ids)})
}

// presenceOf handles GET /api/v1/presence/:userId.
func (m *APIModule) presenceOf(c *fiber.Ctx) error {
	resp, err := m.hubAdapter.IsOnline(c.UserContext(), c.Params("userId"))
	if err != nil {
		return m.internalError(c, "presence_failed", "Failed to query presence", err)
	}
	return c.JSON(PresenceResponse{
		UserID:      resp.UserID,
		Online:      resp.Online,
		Connections: resp.Connections,
	})
}

// broadcastToRole handles POST /api/v1/broadcast/role/:role.
func (m *APIModule) broadcastToRole(c *fiber.Ctx) error {
	req, problem := parseBroadcast(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	delivered, err := m.hubAdapter.BroadcastToRole(c.UserContext(), c.Params("role"), req.Event, req.Payload)
	if err != nil {
		return m.internalError(c, "broadcast_failed", "Failed to broadcast", err)
	}
	return c.JSON(BroadcastResponse{Delivered: delivered})
}

// broadcastToRoom handles POST /api/v1/broadcast/room/:room.
func (m *APIModule) broadcastToRoom(c *fiber.Ctx) error {
	req, problem := parseBroadcast(c)
	if problem != "" {
		return badRequest(c, problem)
	}
	delivered, err := m.hubAdapter.BroadcastToRoom(c.UserContext(), c.Params("room"), req.Event, req.Payload)
	if err != nil {
		return m.internalError(c, "broadcast_failed", "Failed to broadcast", err)
	}
	return c.JSON(BroadcastResponse{Delivered: delivered})
}

// parseBroadcast returns the request, or a message describing why it is invalid.
func parseBroadcast(c *fiber.Ctx) (BroadcastRequest, string) {
	var req BroadcastRequest
	if err := c.BodyParser(&req); err != nil {
		return req, "Invalid request body"
	}
	req.Event = strings.TrimSpace(req.Event)
	if req.Event == "" {
		return req, "Event name is required"
	}
	if len(req.Event) > maxEventNameLength {
		return req, "Event name too long (max 64 characters)"
	}
	return req, ""
}

// createNotification handles POST /api/v1/notifications.
func (m *APIModule) createNotification(c *fiber.Ctx) error {
	var req CreateNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Title) == "" {
		return badRequest(c, "userId and title are required")
	}

	n, err := m.notifyAdapter.Create(c.UserContext(), notifications.CreateRequest{
		UserID: req.UserID,
		Title:  req.Title,
		Body:   req.Body,
		Kind:   req.Kind,
	})
	if err != nil {
		return m.internalError(c, "create_failed", "Failed to create notification", err)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// listNotifications handles GET /api/v1/notifications?unread=&limit=.
func (m *APIModule) listNotifications(c *fiber.Ctx) error {
	identity := identityFrom(c)
	list, err := m.notifyAdapter.List(c.UserContext(), identity.UserID, c.QueryBool("unread"), queryLimit(c))
	if err != nil {
		return m.internalError(c, "list_failed", "Failed to list notifications", err)
	}
	return c.JSON(NotificationListResponse{Notifications: list})
}

// markNotificationRead handles PUT /api/v1/notifications/:id/read.
func (m *APIModule) markNotificationRead(c *fiber.Ctx) error {
	identity := identityFrom(c)
	if err := m.notifyAdapter.MarkRead(c.UserContext(), c.Params("id"), identity.UserID); err != nil {
		if errors.Is(err, notifications.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
				Error:   "not_found",
				Message: "Notification not found",
			})
		}
		return m.internalError(c, "update_failed", "Failed to mark notification read", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// history handles GET /api/v1/messages?peer=&limit=.
func (m *APIModule) history(c *fiber.Ctx) error {
	peer := strings.TrimSpace(c.Query("peer"))
	if peer == "" {
		return badRequest(c, "peer query parameter is required")
	}

	identity := identityFrom(c)
	messages, err := m.storeAdapter.History(c.UserContext(), identity.UserID, peer, queryLimit(c))
	if err != nil {
		return m.internalError(c, "history_failed", "Failed to load history", err)
	}
	return c.JSON(HistoryResponse{PeerID: peer, Messages: messages})
}

// upsertAccount handles PUT /api/v1/accounts/:id.
func (m *APIModule) upsertAccount(c *fiber.Ctx) error {
	var req UpsertAccountRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if strings.TrimSpace(req.Role) == "" {
		return badRequest(c, "role is required")
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	account, err := m.authAdapter.UpsertAccount(c.UserContext(), auth.UpsertAccountRequest{
		ID:            c.Params("id"),
		Role:          req.Role,
		DisplayHandle: req.DisplayHandle,
		Active:        active,
	})
	if err != nil {
		return m.internalError(c, "upsert_failed", "Failed to store account", err)
	}
	return c.JSON(account)
}

// queryLimit parses ?limit=. Zero lets the owning module apply its default.
func queryLimit(c *fiber.Ctx) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

func (m *APIModule) internalError(c *fiber.Ctx, code, message string, err error) error {
	m.logger.Error("Request failed", "path", c.Path(), "code", code, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// Package api exposes the hub over Fiber: the /ws websocket transport plus a
// small REST surface for presence, broadcasts, notifications and history.
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/example/realtime-hub/modules/auth"
	"github.com/example/realtime-hub/modules/broadcast"
	"github.com/example/realtime-hub/modules/hub"
	"github.com/example/realtime-hub/modules/notifications"
	"github.com/example/realtime-hub/modules/store"
)

// Config configures the HTTP server.
type Config struct {
	Addr        string
	CORSOrigins string
	FrameRate   float64
	FrameBurst  int
}

// APIModule is the HTTP API module with WebSocket support.
type APIModule struct {
	app *fiber.App
	cfg Config

	sockets  *broadcast.Table
	sessions SessionHub

	hubAdapter    hub.HubPort
	authAdapter   auth.AuthPort
	storeAdapter  store.StorePort
	notifyAdapter notifications.NotificationsPort

	// ctx outlives every request; it is cancelled on Stop.
	ctx    context.Context
	cancel context.CancelFunc
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*APIModule)(nil)
var _ mono.DependentModule = (*APIModule)(nil)
var _ mono.HealthCheckableModule = (*APIModule)(nil)

// NewModule creates a new APIModule. The socket table and the hub are
// in-process handles injected from main; everything else arrives through
// the service container.
func NewModule(cfg Config, sockets *broadcast.Table, sessions SessionHub, moduleLogger types.Logger) *APIModule {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 10
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &APIModule{
		cfg:      cfg,
		sockets:  sockets,
		sessions: sessions,
		ctx:      ctx,
		cancel:   cancel,
		logger:   moduleLogger.WithModule("api"),
	}
}

// Name returns the module name.
func (m *APIModule) Name() string {
	return "api"
}

// Dependencies returns the list of module dependencies.
func (m *APIModule) Dependencies() []string {
	return []string{"hub", "auth", "store", "notifications"}
}

// SetDependencyServiceContainer receives service containers from dependencies.
func (m *APIModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "hub":
		m.hubAdapter = hub.NewHubAdapter(container)
	case "auth":
		m.authAdapter = auth.NewAuthAdapter(container)
	case "store":
		m.storeAdapter = store.NewStoreAdapter(container)
	case "notifications":
		m.notifyAdapter = notifications.NewNotificationsAdapter(container)
	}
}

// Start initializes and starts the HTTP server.
func (m *APIModule) Start(_ context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}

	m.app = m.newApp()

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listen(m.cfg.Addr); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("HTTP server started", "addr", m.cfg.Addr)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (m *APIModule) Stop(ctx context.Context) error {
	m.cancel()
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	m.logger.Info("HTTP server stopped")
	return nil
}

// Health returns the health status.
func (m *APIModule) Health(_ context.Context) mono.HealthStatus {
	open, authenticated := 0, 0
	if m.sessions != nil {
		open, authenticated = m.sessions.Stats()
	}
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{
			"addr":          m.cfg.Addr,
			"connections":   open,
			"authenticated": authenticated,
		},
	}
}

func (m *APIModule) ready() error {
	switch {
	case m.sockets == nil:
		return errors.New("socket table not set")
	case m.sessions == nil:
		return errors.New("hub not set")
	case m.hubAdapter == nil:
		return errors.New("hub adapter dependency not set")
	case m.authAdapter == nil:
		return errors.New("auth adapter dependency not set")
	case m.storeAdapter == nil:
		return errors.New("store adapter dependency not set")
	case m.notifyAdapter == nil:
		return errors.New("notifications adapter dependency not set")
	}
	return nil
}

// newApp builds the Fiber app with middleware and routes, without listening.
func (m *APIModule) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Realtime Hub",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next:   isUpgrade,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.setupRoutes(app)
	return app
}

// isUpgrade keeps long-lived websocket upgrades out of the access log.
func isUpgrade(c *fiber.Ctx) bool {
	return c.Get("Upgrade") == "websocket"
}

// errorHandler handles errors globally.
func (m *APIModule) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "message", message, "error", err)
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   "server_error",
		Message: message,
	})
}

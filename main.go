package main

import (
	"context"
	"log"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/realtime-hub/config"
	"github.com/example/realtime-hub/database"
	"github.com/example/realtime-hub/modules/api"
	"github.com/example/realtime-hub/modules/auth"
	"github.com/example/realtime-hub/modules/broadcast"
	"github.com/example/realtime-hub/modules/hub"
	"github.com/example/realtime-hub/modules/notifications"
	"github.com/example/realtime-hub/modules/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(cfg.Shutdown),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	logger := app.Logger()

	db, err := database.Open(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	// Create modules
	broadcastModule := broadcast.NewModule(cfg.Hub.SendBuffer, logger)
	authModule := auth.NewModule(db, auth.Config{
		JWT: auth.JWTConfig{
			SecretKey: cfg.JWT.Secret,
			Issuer:    cfg.JWT.Issuer,
		},
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		CacheTTL:      cfg.Redis.TTL,
	}, logger)
	storeModule := store.NewModule(db, logger)
	notificationsModule := notifications.NewModule(db, logger)
	hubModule := hub.NewModule(hub.Config{
		AuthTimeout:      cfg.Hub.AuthTimeout,
		HandshakeTimeout: cfg.Hub.HandshakeTimeout,
		RegistryShards:   cfg.Hub.RegistryShards,
		PairStripes:      cfg.Hub.PairStripes,
	}, broadcastModule.Table(), logger)

	// The socket table and the hub are in-process handles, not services,
	// so the API receives them directly.
	apiModule := api.NewModule(api.Config{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		FrameRate:   cfg.HTTP.FrameRate,
		FrameBurst:  cfg.HTTP.FrameBurst,
	}, broadcastModule.Table(), hubModule.Hub(), logger)

	// Register modules with the framework.
	// - broadcast: socket table owning every websocket and its groups
	// - auth: identity resolution, account records, last-seen stamping
	// - store: durable messages and read receipts
	// - notifications: notification records, NotificationCreated emitter
	// - hub: registry, rooms, presence, routing (depends on auth, store)
	// - api: Fiber HTTP/WebSocket server (depends on hub, auth, store, notifications)
	app.Register(broadcastModule)
	app.Register(authModule)
	app.Register(storeModule)
	app.Register(notificationsModule)
	app.Register(hubModule)
	app.Register(apiModule)

	if err := app.Start(context.Background()); err != nil {
		_ = database.Close(db)
		log.Fatalf("Failed to start application: %v", err)
	}

	logger.Info("Realtime hub started",
		"addr", cfg.HTTP.Addr,
		"db", cfg.DB.Driver,
		"identity_cache", cfg.Redis.Addr != "")
	logger.Info("Endpoints",
		"websocket", "GET /ws",
		"rest", "/api/v1/{presence,messages,notifications,broadcast,accounts}")
	logger.Info("Press Ctrl+C to shutdown gracefully")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Shutdown,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				logger.Info("Graceful shutdown initiated")
				if err := app.Stop(ctx); err != nil {
					return err
				}
				return database.Close(db)
			},
		},
	)

	exitCode := <-wait
	logger.Info("Application exited", "code", exitCode)
	os.Exit(exitCode)
}

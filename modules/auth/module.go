package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	domain "github.com/example/realtime-hub/domain/hub"
	"github.com/example/realtime-hub/events"
)

// Config configures the auth module.
type Config struct {
	JWT           JWTConfig
	RedisAddr     string // empty disables the identity cache
	RedisPassword string
	CacheTTL      time.Duration
}

// AuthModule resolves session tokens to account identities.
type AuthModule struct {
	db       *gorm.DB
	cfg      Config
	repo     *AccountRepository
	cache    *IdentityCache
	resolver *Resolver
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*AuthModule)(nil)
var _ mono.ServiceProviderModule = (*AuthModule)(nil)
var _ mono.EventConsumerModule = (*AuthModule)(nil)
var _ mono.HealthCheckableModule = (*AuthModule)(nil)

// NewModule creates a new AuthModule on an open database.
func NewModule(db *gorm.DB, cfg Config, logger types.Logger) *AuthModule {
	logger = logger.WithModule("auth")
	repo := NewAccountRepository(db)
	return &AuthModule{
		db:       db,
		cfg:      cfg,
		repo:     repo,
		resolver: NewResolver(NewJWTManager(cfg.JWT), repo, nil, logger),
		logger:   logger,
	}
}

// Name returns the module name.
func (m *AuthModule) Name() string {
	return "auth"
}

// Start connects the identity cache when Redis is configured. An unreachable
// Redis degrades to uncached lookups.
func (m *AuthModule) Start(ctx context.Context) error {
	if m.db == nil {
		return errors.New("database not initialized")
	}

	if m.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     m.cfg.RedisAddr,
			Password: m.cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			m.logger.Warn("Redis unavailable, identity cache disabled", "addr", m.cfg.RedisAddr, "error", err)
			_ = client.Close()
		} else {
			m.cache = NewIdentityCache(client, "hub:identity:", m.cfg.CacheTTL)
			m.resolver.cache = m.cache
		}
	}

	m.logger.Info("Module started", "identityCache", m.cache != nil)
	return nil
}

// Stop closes the cache connection.
func (m *AuthModule) Stop(_ context.Context) error {
	if m.cache != nil {
		if err := m.cache.Close(); err != nil {
			m.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	m.logger.Info("Module stopped")
	return nil
}

// Health returns the health status of the module.
func (m *AuthModule) Health(ctx context.Context) mono.HealthStatus {
	sqlDB, err := m.db.DB()
	if err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("failed to get database connection: %v", err),
		}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}

	details := map[string]any{"identity_cache": "disabled"}
	if m.cache != nil {
		details["identity_cache"] = "redis"
		details["cache_stats"] = m.cache.Stats()
		if err := m.cache.Ping(ctx); err != nil {
			details["cache_error"] = err.Error()
		}
	}

	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: details,
	}
}

// RegisterServices registers request-reply services in the service container.
func (m *AuthModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceResolve,
		json.Unmarshal,
		json.Marshal,
		m.handleResolve,
	); err != nil {
		return fmt.Errorf("failed to register resolve service: %w", err)
	}

	if err := helper.RegisterTypedRequestReplyService(
		container,
		ServiceUpsertAccount,
		json.Unmarshal,
		json.Marshal,
		m.handleUpsertAccount,
	); err != nil {
		return fmt.Errorf("failed to register upsert-account service: %w", err)
	}

	m.logger.Info("Registered services", "services", "resolve, upsert-account")
	return nil
}

// RegisterEventConsumers stamps last-seen times from presence changes.
func (m *AuthModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.PresenceChangedV1, m.handlePresenceChanged, m); err != nil {
		return fmt.Errorf("failed to register PresenceChanged consumer: %w", err)
	}
	return nil
}

// handleResolve handles token resolution. Rejected tokens are a response,
// not a service error.
func (m *AuthModule) handleResolve(ctx context.Context, req ResolveRequest, _ *mono.Msg) (ResolveResponse, error) {
	identity, err := m.resolver.Resolve(ctx, req.Token)
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return ResolveResponse{Code: CodeInvalidCredentials, Message: "invalid or expired session"}, nil
	case errors.Is(err, domain.ErrAccountInactive):
		return ResolveResponse{Code: CodeAccountInactive, Message: err.Error()}, nil
	case err != nil:
		m.logger.Error("Token resolution failed", "error", err)
		return ResolveResponse{}, err
	}
	return ResolveResponse{Identity: identity}, nil
}

func (m *AuthModule) handleUpsertAccount(ctx context.Context, req UpsertAccountRequest, _ *mono.Msg) (UpsertAccountResponse, error) {
	account := domain.Account{
		ID:            req.ID,
		Role:          req.Role,
		DisplayHandle: req.DisplayHandle,
		Active:        req.Active,
	}
	if err := m.resolver.UpsertAccount(ctx, &account); err != nil {
		return UpsertAccountResponse{}, err
	}

	stored, err := m.repo.FindByID(ctx, account.ID)
	if err != nil {
		return UpsertAccountResponse{}, err
	}
	m.logger.Info("Account upserted", "userID", stored.ID, "role", stored.Role, "active", stored.Active)
	return UpsertAccountResponse{Account: *stored}, nil
}

func (m *AuthModule) handlePresenceChanged(ctx context.Context, event events.PresenceChangedEvent, _ *mono.Msg) error {
	if err := m.repo.TouchLastSeen(ctx, event.UserID, event.Timestamp); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		m.logger.Warn("Failed to record last seen", "userID", event.UserID, "error", err)
		return err
	}
	return nil
}

// Resolver returns the token resolver.
func (m *AuthModule) Resolver() *Resolver {
	return m.resolver
}

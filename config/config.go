// Package config loads process settings from defaults, an optional config file and HUB_* env vars.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when a loaded value fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every setting the process reads at startup.
type Config struct {
	HTTP     HTTPConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Hub      HubConfig
	Shutdown time.Duration
}

// HTTPConfig configures the Fiber server.
type HTTPConfig struct {
	Addr        string
	CORSOrigins string
	// FrameRate and FrameBurst bound inbound websocket frames per connection.
	FrameRate  float64
	FrameBurst int
}

// DBConfig selects the gorm dialect.
type DBConfig struct {
	Driver string
	DSN    string
}

// RedisConfig configures the identity cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	TTL      time.Duration
}

// JWTConfig configures token validation.
type JWTConfig struct {
	Secret string
	Issuer string
}

// HubConfig tunes the connection hub.
type HubConfig struct {
	AuthTimeout      time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	RegistryShards   int
	PairStripes      int
}

var defaults = map[string]any{
	"http.addr":             ":3000",
	"http.cors_origins":     "http://localhost:3000,http://localhost:8080",
	"http.frame_rate":       10.0,
	"http.frame_burst":      20,
	"db.driver":             "sqlite",
	"db.dsn":                "realtime-hub.db",
	"redis.addr":            "",
	"redis.password":        "",
	"redis.ttl":             time.Minute,
	"jwt.secret":            "",
	"jwt.issuer":            "realtime-hub",
	"hub.auth_timeout":      5 * time.Second,
	"hub.handshake_timeout": 30 * time.Second,
	"hub.send_buffer":       64,
	"hub.registry_shards":   32,
	"hub.pair_stripes":      64,
	"shutdown.timeout":      30 * time.Second,
}

// Option customizes the loader.
type Option func(*viper.Viper)

// WithConfigFile reads settings from an explicit file path.
func WithConfigFile(path string) Option {
	return func(v *viper.Viper) {
		v.SetConfigFile(path)
	}
}

// Load builds a Config. A missing config file is not an error.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, opt := range opts {
		opt(v)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Addr:        v.GetString("http.addr"),
			CORSOrigins: v.GetString("http.cors_origins"),
			FrameRate:   v.GetFloat64("http.frame_rate"),
			FrameBurst:  v.GetInt("http.frame_burst"),
		},
		DB: DBConfig{
			Driver: v.GetString("db.driver"),
			DSN:    v.GetString("db.dsn"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Hub: HubConfig{
			AuthTimeout:      v.GetDuration("hub.auth_timeout"),
			HandshakeTimeout: v.GetDuration("hub.handshake_timeout"),
			SendBuffer:       v.GetInt("hub.send_buffer"),
			RegistryShards:   v.GetInt("hub.registry_shards"),
			PairStripes:      v.GetInt("hub.pair_stripes"),
		},
		Shutdown: v.GetDuration("shutdown.timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a module.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported db.driver %q", ErrInvalidConfig, c.DB.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("%w: jwt.secret is required", ErrInvalidConfig)
	}
	if c.Hub.AuthTimeout <= 0 {
		return fmt.Errorf("%w: hub.auth_timeout must be positive", ErrInvalidConfig)
	}
	if c.HTTP.FrameRate <= 0 || c.HTTP.FrameBurst <= 0 {
		return fmt.Errorf("%w: http frame limits must be positive", ErrInvalidConfig)
	}
	if c.Hub.SendBuffer <= 0 || c.Hub.RegistryShards <= 0 || c.Hub.PairStripes <= 0 {
		return fmt.Errorf("%w: hub sizes must be positive", ErrInvalidConfig)
	}
	return nil
}

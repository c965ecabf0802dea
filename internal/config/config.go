// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the account directory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port for the session store (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the Redis AUTH password; empty when Redis runs without auth.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database number.
	RedisDB int `mapstructure:"REDIS_DB"`
	// JWTSecret is the HMAC secret for signing access tokens; required to start the server.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim (e.g. "session-manager").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "session-manager-client").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTL is the sliding session record TTL (e.g. "1h"); renewal resets it.
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// SessionLimit is the max concurrent sessions per account; older sessions are evicted beyond it.
	SessionLimit int `mapstructure:"SESSION_LIMIT"`
	// RefreshWindow is how long after the last activity a session may still be rotated (e.g. "168h").
	RefreshWindow string `mapstructure:"REFRESH_WINDOW"`
	// AESKey is the base64-encoded 32-byte key for encrypting account secrets at rest.
	AESKey string `mapstructure:"AES_KEY"`
	// AESPassphrase derives the 32-byte key via PBKDF2 when AESKey is not set.
	AESPassphrase string `mapstructure:"AES_PASSPHRASE"`
	// AutoProvision enables account auto-registration on first login with an unused username.
	// A product/security decision; must stay off in production unless explicitly opted in.
	AutoProvision bool `mapstructure:"AUTH_AUTO_PROVISION"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// AdminUsername is the account cmd/seed provisions with the admin role.
	AdminUsername string `mapstructure:"ADMIN_USERNAME"`
	// AdminPassword is the initial password for the seeded admin account.
	AdminPassword string `mapstructure:"ADMIN_PASSWORD"`
	// CORSOrigins is a comma-separated allowlist of browser origins; empty disables cross-origin access.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// Telemetry (optional). When Kafka brokers are set, the server emits session
	// lifecycle events to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the Kafka topic for session lifecycle events (default session-events).
	KafkaTopic string `mapstructure:"SESSION_EVENTS_TOPIC"`
	// OTLPEndpoint is the OTLP gRPC endpoint for traces and metrics; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "session-manager")
	v.SetDefault("JWT_AUDIENCE", "session-manager-client")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("SESSION_LIMIT", 2)
	v.SetDefault("REFRESH_WINDOW", "168h") // 7d
	v.SetDefault("AES_KEY", "")
	v.SetDefault("AES_PASSPHRASE", "")
	v.SetDefault("AUTH_AUTO_PROVISION", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SESSION_EVENTS_TOPIC", "session-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.SessionLimit < 1 {
		return nil, errors.New("config: SESSION_LIMIT must be at least 1")
	}
	if cfg.AutoProvision && cfg.Env == "production" {
		return nil, errors.New("config: AUTH_AUTO_PROVISION must not be true when APP_ENV=production")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// SessionTTLDuration parses SessionTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// RefreshWindowDuration parses RefreshWindow as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.RefreshWindow)
	if err != nil || d <= 0 {
		return 168 * time.Hour
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event emission is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOriginsList returns the allowed browser origins from the comma-separated config.
func (c *Config) CORSOriginsList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

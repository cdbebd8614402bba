package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds runtime settings for the API and migration binaries.
type Config struct {
	Environment string `env:"CASA_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogDev      bool   `env:"LOG_DEV" envDefault:"false"`

	HTTPAddr       string   `env:"CASA_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string   `env:"CASA_GRPC_ADDR" envDefault:":9090"`
	MaxBodyBytes   int64    `env:"CASA_MAX_BODY_BYTES" envDefault:"1048576"`
	ThrottleRPS    int      `env:"CASA_THROTTLE_RPS" envDefault:"20"`
	ThrottleBurst  int      `env:"CASA_THROTTLE_BURST" envDefault:"40"`
	TrustedProxies []string `env:"CASA_TRUSTED_PROXIES" envSeparator:","`

	PostgresDSN    string        `env:"CASA_PG_DSN"`
	PGMaxOpenConns int           `env:"CASA_PG_MAX_OPEN_CONNS" envDefault:"10"`
	PGMaxIdleConns int           `env:"CASA_PG_MAX_IDLE_CONNS" envDefault:"10"`
	PGConnLifetime time.Duration `env:"CASA_PG_CONN_MAX_LIFETIME" envDefault:"30m"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	KafkaBrokers      []string `env:"KAFKA_BROKERS" envSeparator:","`
	NotificationTopic string   `env:"CASA_NOTIFICATION_TOPIC" envDefault:"casa.notifications.email"`

	JWTSecret  string        `env:"CASA_JWT_SECRET"`
	JWTIssuer  string        `env:"CASA_JWT_ISSUER" envDefault:"casa-saas"`
	AccessTTL  time.Duration `env:"CASA_ACCESS_TTL" envDefault:"30m"`
	RefreshTTL time.Duration `env:"CASA_REFRESH_TTL" envDefault:"24h"`

	FrontendURL       string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	DefaultTenantName string `env:"CASA_DEFAULT_TENANT" envDefault:"Casa Community Pty Ltd"`

	ZohoWebhookSecret     string `env:"ZOHO_WEBHOOK_SECRET"`
	PandaDocWebhookSecret string `env:"PANDADOC_WEBHOOK_SECRET"`
}

const minSecretLen = 32

// Load reads an optional .env file and parses the environment into Config.
// Values already present in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < minSecretLen {
		return fmt.Errorf("CASA_JWT_SECRET must be at least %d characters", minSecretLen)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("CASA_ACCESS_TTL must be shorter than CASA_REFRESH_TTL")
	}
	if strings.TrimSpace(c.DefaultTenantName) == "" {
		return errors.New("CASA_DEFAULT_TENANT is required")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("CASA_MAX_BODY_BYTES must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `envPrefix:"APP_"`
	Postgres     PostgresConfig     `envPrefix:"POSTGRES_"`
	Redis        RedisConfig        `envPrefix:"REDIS_"`
	Logger       LoggerConfig       `envPrefix:"LOG_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	Notification NotificationConfig `envPrefix:"NOTIFY_"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `env:"NAME" envDefault:"user-service"`
	Env                   string `env:"ENV" envDefault:"development"`
	Host                  string `env:"HOST" envDefault:"0.0.0.0"`
	Port                  string `env:"PORT" envDefault:"8080"`
	Version               string `env:"VERSION" envDefault:"dev"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string        `env:"DSN"`
	MaxConns       int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns       int32         `env:"MIN_CONNS" envDefault:"2"`
	RunMigrations  bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	ConnMaxIdleSec int32         `env:"CONN_MAX_IDLE_SECONDS" envDefault:"30"`
	ConnMaxLifeSec int32         `env:"CONN_MAX_LIFE_SECONDS" envDefault:"300"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr           string        `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password       string        `env:"PASSWORD"`
	DB             int           `env:"DB" envDefault:"0"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// AuthConfig defines token, cache and credential parameters. The cache TTL is
// independent of the token lifetimes.
type AuthConfig struct {
	JWTAlgorithm         string        `env:"JWT_ALGORITHM" envDefault:"EdDSA"`
	JWTPrivateKeyPath    string        `env:"JWT_PRIVATE_KEY_PATH" envDefault:"keys/private.pem"`
	JWTPublicKeyPath     string        `env:"JWT_PUBLIC_KEY_PATH" envDefault:"keys/public.pem"`
	JWTIssuer            string        `env:"JWT_ISSUER" envDefault:"user-service"`
	JWTAudience          string        `env:"JWT_AUDIENCE" envDefault:"user-service-clients"`
	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	UserCacheTTL         time.Duration `env:"USER_CACHE_TTL" envDefault:"1h"`
	PasswordResetTTL     time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"30m"`
	EmailVerificationTTL time.Duration `env:"EMAIL_VERIFICATION_TTL" envDefault:"24h"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom string `env:"EMAIL_FROM" envDefault:"noreply@example.com"`
	QueueSize int    `env:"QUEUE_SIZE" envDefault:"128"`
}

var supportedAlgorithms = map[string]struct{}{
	"EdDSA": {},
	"RS256": {},
	"ES256": {},
}

// Load reads configuration from the environment, optionally seeded from a
// .env file, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	if _, ok := supportedAlgorithms[c.Auth.JWTAlgorithm]; !ok {
		return fmt.Errorf("unsupported AUTH_JWT_ALGORITHM %q", c.Auth.JWTAlgorithm)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Auth.UserCacheTTL <= 0 {
		return errors.New("AUTH_USER_CACHE_TTL must be positive")
	}
	if c.Auth.PasswordResetTTL <= 0 || c.Auth.EmailVerificationTTL <= 0 {
		return errors.New("one-time token TTLs must be positive")
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

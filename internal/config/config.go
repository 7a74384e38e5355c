// Package config loads the service configuration from the environment,
// optionally seeded from a .env file, and sanitizes it to safe defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const (
	defaultPort             = ":8080"
	defaultOrigin           = "http://localhost:3000"
	defaultMaxMessageSize   = 4096
	defaultDSN              = "chatrelay.db"
	defaultPersistQueueSize = 256
	defaultPersistTimeout   = 5 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
)

// Config holds the server configuration.
type Config struct {
	Port             string        `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	JWTSecret        string        `env:"JWT_SECRET,required=true"`
	DBDriver         string        `env:"DB_DRIVER,default=sqlite"`
	DBDSN            string        `env:"DB_DSN,default=chatrelay.db"`
	PersistQueueSize int           `env:"PERSIST_QUEUE_SIZE,default=256"`
	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT,default=5s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	LogFormat        string        `env:"LOG_FORMAT,default=text"`
}

// Load reads envFile when it exists, then the process environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize replaces unset or invalid values with defaults.
func Sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if strings.TrimSpace(cfg.AllowedOrigins) == "" {
		cfg.AllowedOrigins = defaultOrigin
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverSQLite
	}
	if cfg.DBDSN == "" && cfg.DBDriver == DriverSQLite {
		cfg.DBDSN = defaultDSN
	}
	if cfg.PersistQueueSize <= 0 {
		cfg.PersistQueueSize = defaultPersistQueueSize
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return cfg
}

// Validate reports settings that have no safe default.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN must be set for postgres")
	}
	return nil
}

// Origins splits the comma separated ALLOWED_ORIGINS value.
func (c Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

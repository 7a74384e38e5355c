package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Origins())
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "chatrelay.db", cfg.DBDSN)
	assert.Equal(t, 256, cfg.PersistQueueSize)
	assert.Equal(t, 5*time.Second, cfg.PersistTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, https://b.example ,")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "postgres://localhost/chat")
	t.Setenv("PERSIST_TIMEOUT", "2s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.Origins())
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.PersistTimeout)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_UnsupportedDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load("")
	require.ErrorContains(t, err, "unsupported DB_DRIVER")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JWT_SECRET=from-file\nLOG_LEVEL=debug\n"), 0o600))
	// godotenv never overrides variables that are already set.
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("JWT_SECRET"))
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestSanitize(t *testing.T) {
	cfg := Sanitize(Config{MaxMessageSize: -1, PersistQueueSize: -3})

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 256, cfg.PersistQueueSize)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "chatrelay.db", cfg.DBDSN)
}

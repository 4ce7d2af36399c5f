package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func validConfig() *AppConfig {
	return &AppConfig{
		ListenAddr:      ":8000",
		RoomMaxAge:      24 * time.Hour,
		ReapInterval:    10 * time.Minute,
		SendTimeout:     5 * time.Second,
		WSReadLimit:     65536,
		AllowedOrigins:  []string{"*"},
		DatabaseMigrate: true,
		HistoryLimit:    20,
		ShutdownTimeout: 10 * time.Second,
		Log:             LogConfig{Level: "info", Format: "legacy", ToConsole: true},
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, 24*time.Hour, cfg.RoomMaxAge)
	assert.Equal(t, 10*time.Minute, cfg.ReapInterval)
	assert.Equal(t, 5*time.Second, cfg.SendTimeout)
	assert.EqualValues(t, 65536, cfg.WSReadLimit)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.AllowsAllOrigins())
	assert.True(t, cfg.DatabaseMigrate)
	assert.Equal(t, 20, cfg.HistoryLimit)
	assert.Equal(t, "legacy", cfg.Log.Format)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9100")
	t.Setenv("ROOM_MAX_AGE", "2h")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("REDIS_URL", " redis://localhost:6379/0 ")
	t.Setenv("DATABASE_MIGRATE", "false")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.ListenAddr)
	assert.Equal(t, 2*time.Hour, cfg.RoomMaxAge)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.AllowsAllOrigins())
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.False(t, cfg.DatabaseMigrate)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9001"
send_timeout: 2s
history_limit: 5
log_format: json
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HISTORY_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9001", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.Equal(t, 7, cfg.HistoryLimit, "environment wins over file")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/nonexistent/relay.yaml")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := validConfig()
	cfg.ListenAddr = ""
	cfg.HistoryLimit = 0
	cfg.Log.Format = "xml"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LISTEN_ADDR")
	assert.Contains(t, err.Error(), "HISTORY_LIMIT")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
}

func TestValidateLogFileRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Log.ToFile = true
	assert.Error(t, cfg.Validate())
	cfg.Log.File = "logs/relay.log"
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromViper(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("reap_interval", "30s")
	cfg, err := LoadFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.ReapInterval)
}

func TestProperty_PositiveDurationsValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := validConfig()
		cfg.RoomMaxAge = time.Duration(rapid.Int64Range(1, int64(72*time.Hour)).Draw(t, "max_age"))
		cfg.ReapInterval = time.Duration(rapid.Int64Range(1, int64(time.Hour)).Draw(t, "interval"))
		cfg.SendTimeout = time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "send"))
		if err := cfg.Validate(); err != nil {
			t.Fatalf("expected valid config, got %v", err)
		}
	})
}

func TestProperty_NonPositiveSendTimeoutInvalid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := validConfig()
		cfg.SendTimeout = time.Duration(rapid.Int64Range(-int64(time.Hour), 0).Draw(t, "send"))
		if err := cfg.Validate(); err == nil {
			t.Fatalf("expected error for send timeout %s", cfg.SendTimeout)
		}
	})
}

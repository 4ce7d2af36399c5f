// Package config loads relay server settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogConfig holds logger construction settings.
type LogConfig struct {
	Level     string
	Format    string // legacy | json | console
	ToConsole bool
	ToFile    bool
	File      string
	Caller    bool
}

type AppConfig struct {
	ListenAddr string

	RoomMaxAge   time.Duration
	ReapInterval time.Duration
	SendTimeout  time.Duration
	WSReadLimit  int64

	AllowedOrigins []string

	RedisURL        string
	DatabaseURL     string
	DatabaseMigrate bool

	MessagesDir  string
	HistoryLimit int

	ShutdownTimeout time.Duration

	Log LogConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("room_max_age", "24h")
	v.SetDefault("reap_interval", "10m")
	v.SetDefault("send_timeout", "5s")
	v.SetDefault("ws_read_limit", 65536)
	v.SetDefault("allowed_origins", "*")
	v.SetDefault("redis_url", "")
	v.SetDefault("database_url", "")
	v.SetDefault("database_migrate", true)
	v.SetDefault("messages_dir", "")
	v.SetDefault("history_limit", 20)
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "legacy")
	v.SetDefault("log_to_console", true)
	v.SetDefault("log_to_file", false)
	v.SetDefault("log_file", "logs/relay.log")
	v.SetDefault("log_caller", false)
}

// Load reads CONFIG_FILE when set, then lets environment variables override
// every key. The result is validated.
func Load() (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds an AppConfig from an already populated viper instance.
func LoadFromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      strings.TrimSpace(v.GetString("listen_addr")),
		RoomMaxAge:      v.GetDuration("room_max_age"),
		ReapInterval:    v.GetDuration("reap_interval"),
		SendTimeout:     v.GetDuration("send_timeout"),
		WSReadLimit:     v.GetInt64("ws_read_limit"),
		AllowedOrigins:  splitList(v.GetString("allowed_origins")),
		RedisURL:        strings.TrimSpace(v.GetString("redis_url")),
		DatabaseURL:     strings.TrimSpace(v.GetString("database_url")),
		DatabaseMigrate: v.GetBool("database_migrate"),
		MessagesDir:     strings.TrimSpace(v.GetString("messages_dir")),
		HistoryLimit:    v.GetInt("history_limit"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		Log: LogConfig{
			Level:     strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
			Format:    strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
			ToConsole: v.GetBool("log_to_console"),
			ToFile:    v.GetBool("log_to_file"),
			File:      strings.TrimSpace(v.GetString("log_file")),
			Caller:    v.GetBool("log_caller"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every violation in one error.
func (c *AppConfig) Validate() error {
	var errs []string
	if c.ListenAddr == "" {
		errs = append(errs, "LISTEN_ADDR must not be empty")
	}
	if c.RoomMaxAge <= 0 {
		errs = append(errs, fmt.Sprintf("ROOM_MAX_AGE must be positive, got %s", c.RoomMaxAge))
	}
	if c.ReapInterval <= 0 {
		errs = append(errs, fmt.Sprintf("REAP_INTERVAL must be positive, got %s", c.ReapInterval))
	}
	if c.SendTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("SEND_TIMEOUT must be positive, got %s", c.SendTimeout))
	}
	if c.WSReadLimit < 512 {
		errs = append(errs, fmt.Sprintf("WS_READ_LIMIT must be >= 512, got %d", c.WSReadLimit))
	}
	if len(c.AllowedOrigins) == 0 {
		errs = append(errs, "ALLOWED_ORIGINS must list at least one origin")
	}
	if c.HistoryLimit < 1 {
		errs = append(errs, fmt.Sprintf("HISTORY_LIMIT must be >= 1, got %d", c.HistoryLimit))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, "SHUTDOWN_TIMEOUT must not be negative")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"legacy": true, "json": true, "console": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be one of [legacy, json, console], got %q", c.Log.Format))
	}
	if c.Log.ToFile && c.Log.File == "" {
		errs = append(errs, "LOG_FILE must be set when LOG_TO_FILE is true")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AllowsAllOrigins reports whether ALLOWED_ORIGINS is the wildcard.
func (c *AppConfig) AllowsAllOrigins() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config provides Viper-based configuration loading for the web
// client.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WebConfig holds HTTP server settings.
type WebConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout bounds reading a request, header included.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds writes on non-upgraded responses.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// IdleTimeout bounds keep-alive waits.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// AllowedOrigins lists Origin values accepted on the WebSocket
	// upgrade. Empty means same-host only.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// RenderCache is the per-session LRU size for rendered lines.
	RenderCache int `mapstructure:"render_cache"`
	// SendBuffer is the per-socket outbound envelope queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// UpstreamConfig holds game server connection settings.
type UpstreamConfig struct {
	// Host is the game server hostname.
	Host string `mapstructure:"host"`
	// Port is the game server Telnet port.
	Port int `mapstructure:"port"`
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ReadTimeout is the per-read timeout; it doubles as the idle limit.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" dial address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (u UpstreamConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// HistoryConfig holds transcript recording settings.
type HistoryConfig struct {
	// Enabled turns transcript recording on. When false the database is
	// never touched and the transcript API serves 404s.
	Enabled bool `mapstructure:"enabled"`
	// Buffer is the recorder's queue length; lines beyond it are dropped.
	Buffer int `mapstructure:"buffer"`
	// BatchSize is how many lines the recorder writes per insert.
	BatchSize int `mapstructure:"batch_size"`
	// ReplayLimit caps transcript rows served per API request.
	ReplayLimit int `mapstructure:"replay_limit"`
}

// ScriptsConfig holds user scripting settings.
type ScriptsConfig struct {
	// Dir is the directory of *.lua user scripts; empty disables scripting.
	Dir string `mapstructure:"dir"`
	// InstructionLimit is the Lua opcode budget per script invocation.
	InstructionLimit int `mapstructure:"instruction_limit"`
}

// ChannelsConfig holds line routing settings.
type ChannelsConfig struct {
	// RulesPath is the YAML routing rules file; empty uses built-in defaults.
	RulesPath string `mapstructure:"rules_path"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Web      WebConfig      `mapstructure:"web"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Database DatabaseConfig `mapstructure:"database"`
	History  HistoryConfig  `mapstructure:"history"`
	Scripts  ScriptsConfig  `mapstructure:"scripts"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants. Database settings are
// only enforced when history recording is enabled.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateWeb(c.Web); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateUpstream(c.Upstream); err != nil {
		errs = append(errs, err.Error())
	}
	if c.History.Enabled {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
		if err := validateHistory(c.History); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateScripts(c.Scripts); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWeb(w WebConfig) error {
	var errs []string
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("web.port must be 1-65535, got %d", w.Port))
	}
	if w.ReadTimeout < 0 {
		errs = append(errs, "web.read_timeout must not be negative")
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "web.write_timeout must not be negative")
	}
	if w.RenderCache < 1 {
		errs = append(errs, fmt.Sprintf("web.render_cache must be >= 1, got %d", w.RenderCache))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("web.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateUpstream(u UpstreamConfig) error {
	var errs []string
	if u.Host == "" {
		errs = append(errs, "upstream.host must not be empty")
	}
	if u.Port < 1 || u.Port > 65535 {
		errs = append(errs, fmt.Sprintf("upstream.port must be 1-65535, got %d", u.Port))
	}
	if u.ConnectTimeout < 0 {
		errs = append(errs, "upstream.connect_timeout must not be negative")
	}
	if u.ReadTimeout < 0 {
		errs = append(errs, "upstream.read_timeout must not be negative")
	}
	if u.WriteTimeout < 0 {
		errs = append(errs, "upstream.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHistory(h HistoryConfig) error {
	var errs []string
	if h.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("history.buffer must be >= 1, got %d", h.Buffer))
	}
	if h.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("history.batch_size must be >= 1, got %d", h.BatchSize))
	}
	if h.BatchSize > h.Buffer {
		errs = append(errs, "history.batch_size must not exceed history.buffer")
	}
	if h.ReplayLimit < 1 {
		errs = append(errs, fmt.Sprintf("history.replay_limit must be >= 1, got %d", h.ReplayLimit))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateScripts(s ScriptsConfig) error {
	if s.InstructionLimit < 0 {
		return fmt.Errorf("scripts.instruction_limit must be >= 0, got %d", s.InstructionLimit)
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with MUDWEB_ prefix
	v.SetEnvPrefix("MUDWEB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("web.host", "0.0.0.0")
	v.SetDefault("web.port", 8080)
	v.SetDefault("web.read_timeout", "10s")
	v.SetDefault("web.write_timeout", "10s")
	v.SetDefault("web.idle_timeout", "2m")
	v.SetDefault("web.render_cache", 512)
	v.SetDefault("web.send_buffer", 64)

	v.SetDefault("upstream.host", "localhost")
	v.SetDefault("upstream.port", 4000)
	v.SetDefault("upstream.connect_timeout", "10s")
	v.SetDefault("upstream.read_timeout", "5m")
	v.SetDefault("upstream.write_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "mudweb")
	v.SetDefault("database.password", "mudweb")
	v.SetDefault("database.name", "mudweb")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.buffer", 256)
	v.SetDefault("history.batch_size", 16)
	v.SetDefault("history.replay_limit", 500)

	v.SetDefault("scripts.dir", "")
	v.SetDefault("scripts.instruction_limit", 100000)

	v.SetDefault("channels.rules_path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

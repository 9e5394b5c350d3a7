// Package config provides Viper-based configuration loading for the uno server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Handshake modes for the websocket acceptor.
const (
	HandshakeQuery = "query"
	HandshakeToken = "token"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// GamesDir is the directory of YAML game definitions.
	GamesDir string `mapstructure:"games_dir"`
}

// WebSocketConfig holds websocket acceptor settings.
type WebSocketConfig struct {
	// Host is the bind address for the HTTP/websocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP/websocket listener.
	Port int `mapstructure:"port"`
	// Path is the route the websocket handler is mounted at.
	Path string `mapstructure:"path"`
	// ReadTimeout bounds the wait for each inbound message; zero waits forever.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// CloseTimeout bounds the wait for a peer's close acknowledgment.
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
	// DrainTimeout is how long Stop waits for workers before cancelling them.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	// ReadLimit caps inbound message size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// OutboxSize is the per-player event buffer.
	OutboxSize int `mapstructure:"outbox_size"`
	// Handshake selects the resolver: "query" or "token".
	Handshake string `mapstructure:"handshake"`
	// TokenSecret signs handshake tokens in token mode.
	TokenSecret string `mapstructure:"token_secret"`
	// TokenTTL is the lifetime of issued handshake tokens.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// DiscoveryConfig holds gRPC discovery service settings.
type DiscoveryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" gRPC address.
func (d DiscoveryConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// SessionsConfig holds session defaults.
type SessionsConfig struct {
	// DefaultMaxPlayers applies to games with no library default.
	DefaultMaxPlayers int `mapstructure:"default_max_players"`
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
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDiscovery(c.Discovery); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSessions(c.Sessions); err != nil {
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

func validateServer(s ServerConfig) error {
	var errs []string
	if s.Name == "" {
		errs = append(errs, "server.name must not be empty")
	}
	if s.GamesDir == "" {
		errs = append(errs, "server.games_dir must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 0 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 0-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with /, got %q", w.Path))
	}
	if w.ReadTimeout < 0 {
		errs = append(errs, "websocket.read_timeout must not be negative")
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}
	if w.CloseTimeout <= 0 {
		errs = append(errs, "websocket.close_timeout must be positive")
	}
	if w.DrainTimeout < 0 {
		errs = append(errs, "websocket.drain_timeout must not be negative")
	}
	if w.ReadLimit < 0 {
		errs = append(errs, "websocket.read_limit must not be negative")
	}
	if w.OutboxSize < 2 {
		errs = append(errs, fmt.Sprintf("websocket.outbox_size must be >= 2, got %d", w.OutboxSize))
	}
	switch w.Handshake {
	case HandshakeQuery:
	case HandshakeToken:
		if w.TokenSecret == "" {
			errs = append(errs, "websocket.token_secret must not be empty in token mode")
		}
		if w.TokenTTL <= 0 {
			errs = append(errs, "websocket.token_ttl must be positive in token mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("websocket.handshake must be one of [query, token], got %q", w.Handshake))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDiscovery(d DiscoveryConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "discovery.host must not be empty")
	}
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("discovery.port must be 0-65535, got %d", d.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSessions(s SessionsConfig) error {
	if s.DefaultMaxPlayers < 2 || s.DefaultMaxPlayers > 10 {
		return fmt.Errorf("sessions.default_max_players must be 2-10, got %d", s.DefaultMaxPlayers)
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

	// Environment variable overrides with UNO_ prefix
	v.SetEnvPrefix("UNO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
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

// Defaults returns a Viper instance carrying only the default values.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "uno")
	v.SetDefault("server.games_dir", "games")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 8080)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_timeout", "10m")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.close_timeout", "2s")
	v.SetDefault("websocket.drain_timeout", "15s")
	v.SetDefault("websocket.read_limit", 4096)
	v.SetDefault("websocket.outbox_size", 64)
	v.SetDefault("websocket.handshake", HandshakeQuery)
	v.SetDefault("websocket.token_ttl", "5m")

	v.SetDefault("discovery.enabled", true)
	v.SetDefault("discovery.host", "127.0.0.1")
	v.SetDefault("discovery.port", 50051)

	v.SetDefault("sessions.default_max_players", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

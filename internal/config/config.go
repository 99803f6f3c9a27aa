// Package config provides Viper-based configuration loading for the minigolf host.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

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
	// ConnectAttempts is how many pings NewPool tries before giving up.
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
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

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// StorageConfig selects the persistent store.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// TransportConfig holds WebSocket listener settings.
type TransportConfig struct {
	// Host is the bind address for the WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the WebSocket listener.
	Port int `mapstructure:"port"`
	// Path is the HTTP path peers connect to.
	Path string `mapstructure:"path"`
	// Envelope is the outbound framing: "binary" (CBOR) or "text".
	Envelope string `mapstructure:"envelope"`
	// SendBuffer is the per-peer outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// ReadLimit is the maximum inbound message size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// SessionConfig holds control loop timing and reconciliation policy.
type SessionConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	EmailMatchPolicy  string        `mapstructure:"email_match_policy"`
	ReconcileAttempts int           `mapstructure:"reconcile_max_attempts"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
}

// ContentConfig points at optional content files. Empty paths select built-in content.
type ContentConfig struct {
	TriggersFile string `mapstructure:"triggers_file"`
	MapSetsFile  string `mapstructure:"mapsets_file"`
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
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Content   ContentConfig   `mapstructure:"content"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Storage.Backend == BackendPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateTransport(c.Transport); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSession(c.Session); err != nil {
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

func validateStorage(s StorageConfig) error {
	validBackends := map[string]bool{BackendPostgres: true, BackendMemory: true}
	if !validBackends[s.Backend] {
		return fmt.Errorf("storage.backend must be one of [postgres, memory], got %q", s.Backend)
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
	if d.ConnectAttempts < 1 {
		errs = append(errs, fmt.Sprintf("database.connect_attempts must be >= 1, got %d", d.ConnectAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.Port < 0 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("transport.port must be 0-65535, got %d", t.Port))
	}
	if !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Sprintf("transport.path must start with /, got %q", t.Path))
	}
	validEnvelopes := map[string]bool{"binary": true, "text": true}
	if !validEnvelopes[t.Envelope] {
		errs = append(errs, fmt.Sprintf("transport.envelope must be one of [binary, text], got %q", t.Envelope))
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if t.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("transport.read_limit must be >= 1, got %d", t.ReadLimit))
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "transport.write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSession(s SessionConfig) error {
	var errs []string
	if s.TickInterval <= 0 {
		errs = append(errs, "session.tick_interval must be positive")
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, "session.sweep_interval must be positive")
	}
	if s.HeartbeatTimeout <= 0 {
		errs = append(errs, "session.heartbeat_timeout must be positive")
	}
	validPolicies := map[string]bool{"sync": true, "adopt": true}
	if !validPolicies[s.EmailMatchPolicy] {
		errs = append(errs, fmt.Sprintf("session.email_match_policy must be one of [sync, adopt], got %q", s.EmailMatchPolicy))
	}
	if s.ReconcileAttempts < 1 {
		errs = append(errs, fmt.Sprintf("session.reconcile_max_attempts must be >= 1, got %d", s.ReconcileAttempts))
	}
	if s.StoreTimeout < 0 {
		errs = append(errs, "session.store_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
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
// overrides, and validates the result. An empty path loads defaults and environment
// overrides only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with MINIGOLF_ prefix
	v.SetEnvPrefix("MINIGOLF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
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

// NewViper returns a Viper instance carrying the defaults, for callers that layer
// their own values on top.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "minigolf")
	v.SetDefault("database.password", "minigolf")
	v.SetDefault("database.name", "minigolf")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.connect_backoff", "2s")

	v.SetDefault("storage.backend", "postgres")

	v.SetDefault("transport.host", "0.0.0.0")
	v.SetDefault("transport.port", 3536)
	v.SetDefault("transport.path", "/minigolf")
	v.SetDefault("transport.envelope", "binary")
	v.SetDefault("transport.send_buffer", 64)
	v.SetDefault("transport.read_limit", 1<<20)
	v.SetDefault("transport.write_timeout", "10s")

	v.SetDefault("session.tick_interval", "50ms")
	v.SetDefault("session.sweep_interval", "5s")
	v.SetDefault("session.heartbeat_timeout", "15s")
	v.SetDefault("session.email_match_policy", "sync")
	v.SetDefault("session.reconcile_max_attempts", 3)
	v.SetDefault("session.store_timeout", "5s")

	v.SetDefault("content.triggers_file", "")
	v.SetDefault("content.mapsets_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config is the full daemon configuration. Values come from the config
// file with FORGECHAT_* environment variables layered on top; anything
// left unset falls back to the defaults below.
type Config struct {
	// Gateway listener
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session layer
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Authorization backend
	Permission PermissionConfig `json:"permission" mapstructure:"permission"`

	// Tool backend
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Reasoning provider
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`

	// Audit trail
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds the gateway listen settings.
type ServerConfig struct {
	Host         string        `json:"host" mapstructure:"host"`
	Port         int           `json:"port" mapstructure:"port"`
	SharedSecret string        `json:"shared_secret" mapstructure:"shared_secret"`
	TickInterval time.Duration `json:"tick_interval" mapstructure:"tick_interval"`
}

// SessionConfig controls session lifetime and storage.
type SessionConfig struct {
	Timeout          time.Duration `json:"timeout" mapstructure:"timeout"`
	SweepInterval    time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
	RenewalThreshold time.Duration `json:"renewal_threshold" mapstructure:"renewal_threshold"`
	MaxHistory       int           `json:"max_history" mapstructure:"max_history"`
	TokenSecret      string        `json:"token_secret" mapstructure:"token_secret"`
	Backend          string        `json:"backend" mapstructure:"backend"` // memory, redis
	Redis            RedisConfig   `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds connection settings for the redis session backend.
type RedisConfig struct {
	Addr      string `json:"addr" mapstructure:"addr"`
	Password  string `json:"password" mapstructure:"password"`
	DB        int    `json:"db" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix" mapstructure:"key_prefix"`
}

// PermissionConfig points at the build platform's authorization
// endpoint. CacheTTL bounds how stale a fresh session's snapshot can
// be and must stay within the session timeout.
type PermissionConfig struct {
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	Token           string        `json:"token" mapstructure:"token"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	CacheTTL        time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
	SensitiveMaxAge time.Duration `json:"sensitive_max_age" mapstructure:"sensitive_max_age"`
}

// ToolsConfig points at the build platform's tool backend.
type ToolsConfig struct {
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	Token           string        `json:"token" mapstructure:"token"`
	RefreshInterval time.Duration `json:"refresh_interval" mapstructure:"refresh_interval"`
	InvokeTimeout   time.Duration `json:"invoke_timeout" mapstructure:"invoke_timeout"`
}

// ReasoningConfig selects and credentials the reasoning provider.
// Timeout bounds a single provider call; the turn as a whole is
// bounded separately by the engine.
type ReasoningConfig struct {
	Provider      string        `json:"provider" mapstructure:"provider"` // anthropic, openai
	Model         string        `json:"model" mapstructure:"model"`
	APIKey        string        `json:"api_key" mapstructure:"api_key"`
	Timeout       time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxIterations int           `json:"max_iterations" mapstructure:"max_iterations"`
}

// AuditConfig controls the audit trail sink.
type AuditConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Path      string `json:"path" mapstructure:"path"`
	QueueSize int    `json:"queue_size" mapstructure:"queue_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// DefaultConfig returns the configuration used when no file exists.
// Endpoints and credentials have no sensible defaults and stay empty;
// Validate rejects a config that leaves them unset.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			TickInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			Timeout:          15 * time.Minute,
			SweepInterval:    5 * time.Minute,
			RenewalThreshold: 2 * time.Minute,
			MaxHistory:       50,
			Backend:          "memory",
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "forgechat:",
			},
		},
		Permission: PermissionConfig{
			Timeout:         5 * time.Second,
			CacheTTL:        5 * time.Minute,
			SensitiveMaxAge: 5 * time.Minute,
		},
		Tools: ToolsConfig{
			RefreshInterval: 10 * time.Minute,
			InvokeTimeout:   30 * time.Second,
		},
		Reasoning: ReasoningConfig{
			Provider:      "anthropic",
			Timeout:       20 * time.Second,
			MaxIterations: 5,
		},
		Audit: AuditConfig{
			Enabled:   true,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// String returns a JSON representation of the config with credentials
// blanked, safe to log.
func (c *Config) String() string {
	clone := *c
	clone.Server.SharedSecret = redactValue(clone.Server.SharedSecret)
	clone.Session.TokenSecret = redactValue(clone.Session.TokenSecret)
	clone.Session.Redis.Password = redactValue(clone.Session.Redis.Password)
	clone.Permission.Token = redactValue(clone.Permission.Token)
	clone.Tools.Token = redactValue(clone.Tools.Token)
	clone.Reasoning.APIKey = redactValue(clone.Reasoning.APIKey)

	data, _ := json.MarshalIndent(&clone, "", "  ")
	return string(data)
}

func redactValue(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// Validate checks required fields and bounds. A config that fails
// validation must not start the daemon.
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

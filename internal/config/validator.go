package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider checks that the reasoning provider is supported.
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	}
	return fmt.Errorf("invalid reasoning provider %q (must be: anthropic, openai)", provider)
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBackend checks the session store backend name.
func (v *Validator) ValidateBackend(backend string) error {
	switch backend {
	case "memory", "redis":
		return nil
	}
	return fmt.Errorf("invalid session backend %q (must be: memory, redis)", backend)
}

// ValidateLogLevel validates the log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level %q (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort checks a TCP listen port.
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", port)
	}
	return nil
}

// ValidateEndpoint checks that an endpoint is an absolute http(s) URL.
func (v *Validator) ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid endpoint %q: host is required", endpoint)
	}
	return nil
}

// ValidateTokenSecret checks the session token signing secret.
func (v *Validator) ValidateTokenSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("token secret is required")
	}
	if len(secret) < 32 {
		return fmt.Errorf("token secret must be at least 32 bytes, got %d", len(secret))
	}
	return nil
}

// ValidateConfig validates the whole config and returns every error
// found, not just the first.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	fail := func(section string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", section, err))
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		fail("server", err)
	}
	if cfg.Server.TickInterval <= 0 {
		fail("server", fmt.Errorf("tick_interval must be positive"))
	}

	if cfg.Session.Timeout <= 0 {
		fail("session", fmt.Errorf("timeout must be positive"))
	}
	if cfg.Session.SweepInterval <= 0 {
		fail("session", fmt.Errorf("sweep_interval must be positive"))
	}
	if cfg.Session.RenewalThreshold <= 0 {
		fail("session", fmt.Errorf("renewal_threshold must be positive"))
	} else if cfg.Session.Timeout > 0 && cfg.Session.RenewalThreshold >= cfg.Session.Timeout {
		fail("session", fmt.Errorf("renewal_threshold must be shorter than timeout"))
	}
	if cfg.Session.MaxHistory <= 0 {
		fail("session", fmt.Errorf("max_history must be positive"))
	}
	if err := v.ValidateTokenSecret(cfg.Session.TokenSecret); err != nil {
		fail("session", err)
	}
	if err := v.ValidateBackend(cfg.Session.Backend); err != nil {
		fail("session", err)
	} else if cfg.Session.Backend == "redis" && cfg.Session.Redis.Addr == "" {
		fail("session", fmt.Errorf("redis.addr is required when backend is redis"))
	}

	if err := v.ValidateEndpoint(cfg.Permission.Endpoint); err != nil {
		fail("permission", err)
	}
	if cfg.Permission.Timeout <= 0 {
		fail("permission", fmt.Errorf("timeout must be positive"))
	}
	if cfg.Permission.CacheTTL <= 0 {
		fail("permission", fmt.Errorf("cache_ttl must be positive"))
	} else if cfg.Session.Timeout > 0 && cfg.Permission.CacheTTL > cfg.Session.Timeout {
		fail("permission", fmt.Errorf("cache_ttl must not exceed the session timeout"))
	}
	if cfg.Permission.SensitiveMaxAge <= 0 {
		fail("permission", fmt.Errorf("sensitive_max_age must be positive"))
	}

	if err := v.ValidateEndpoint(cfg.Tools.Endpoint); err != nil {
		fail("tools", err)
	}
	if cfg.Tools.RefreshInterval <= 0 {
		fail("tools", fmt.Errorf("refresh_interval must be positive"))
	}
	if cfg.Tools.InvokeTimeout <= 0 {
		fail("tools", fmt.Errorf("invoke_timeout must be positive"))
	}

	if err := v.ValidateProvider(cfg.Reasoning.Provider); err != nil {
		fail("reasoning", err)
	} else if err := v.ValidateAPIKey(cfg.Reasoning.APIKey, cfg.Reasoning.Provider); err != nil {
		fail("reasoning", err)
	}
	if cfg.Reasoning.Timeout <= 0 {
		fail("reasoning", fmt.Errorf("timeout must be positive"))
	}
	if cfg.Reasoning.MaxIterations < 1 || cfg.Reasoning.MaxIterations > 20 {
		fail("reasoning", fmt.Errorf("max_iterations must be 1-20, got %d", cfg.Reasoning.MaxIterations))
	}

	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		fail("audit", fmt.Errorf("path is required when audit is enabled"))
	}
	if cfg.Audit.QueueSize <= 0 {
		fail("audit", fmt.Errorf("queue_size must be positive"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		fail("logging", err)
	}

	return errs
}

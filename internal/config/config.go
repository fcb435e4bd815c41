package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultGatewayPort = 18790
	defaultTimeout     = 30
	defaultRetries     = 2
	defaultWordWrap    = 100
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	retries := defaultRetries
	return Config{
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			TimeoutSeconds: defaultTimeout,
			Retries:        &retries,
		},
		Session: SessionConfig{
			PlaceholderTitle: "New Conversation",
			Cache:            "sqlite",
		},
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Render: RenderConfig{
			Style:    "auto",
			WordWrap: defaultWordWrap,
		},
	}
}

// Timeout returns the non-streaming request timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RetryCount returns the configured retries, falling back to the default.
func (a APIConfig) RetryCount() int {
	if a.Retries == nil {
		return defaultRetries
	}
	return *a.Retries
}

// TimeoutDuration returns the hook timeout, or zero for the hook default.
func (h HookEntry) TimeoutDuration() time.Duration {
	return time.Duration(h.Timeout) * time.Millisecond
}

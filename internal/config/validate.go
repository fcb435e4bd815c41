package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

var (
	validLogLevels     = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	validConsoleStyles = []string{"pretty", "json"}
	validBinds         = []string{"loopback", "lan", "custom"}
	validCaches        = []string{"sqlite", "none"}
)

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// API validation
	if cfg.API.BaseURL == "" {
		add("api.baseUrl", "is required")
	} else if u, err := url.Parse(cfg.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("api.baseUrl", "must be an absolute http(s) URL, got %q", cfg.API.BaseURL)
	}
	if cfg.API.TimeoutSeconds < 0 {
		add("api.timeoutSeconds", "must not be negative, got %d", cfg.API.TimeoutSeconds)
	}
	if cfg.API.Retries != nil && *cfg.API.Retries < 0 {
		add("api.retries", "must not be negative, got %d", *cfg.API.Retries)
	}

	oneOf("session.cache", cfg.Session.Cache, validCaches)

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, validBinds)
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, validLogLevels)
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, validConsoleStyles)

	if cfg.Render.WordWrap < 0 {
		add("render.wordWrap", "must not be negative, got %d", cfg.Render.WordWrap)
	}

	// Hook validation
	hookLists := []struct {
		path    string
		entries []HookEntry
	}{
		{"hooks.streamSettled", cfg.Hooks.StreamSettled},
		{"hooks.streamFailed", cfg.Hooks.StreamFailed},
		{"hooks.conversationDeleted", cfg.Hooks.ConversationDeleted},
	}
	for _, list := range hookLists {
		for i, h := range list.entries {
			path := fmt.Sprintf("%s[%d]", list.path, i)
			if strings.TrimSpace(h.Command) == "" {
				add(path+".command", "is required")
			}
			if h.Timeout < 0 {
				add(path+".timeout", "must not be negative, got %d", h.Timeout)
			}
		}
	}

	return issues
}

package config

// Config is the root configuration for compass.
type Config struct {
	API     APIConfig     `yaml:"api,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Render  RenderConfig  `yaml:"render,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// APIConfig points the client at the assistant backend.
type APIConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	Token          string `yaml:"token,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"` // non-streaming calls only
	Retries        *int   `yaml:"retries,omitempty"`        // idempotent GETs only; defaults to 2
}

// SessionConfig defines session behavior.
type SessionConfig struct {
	PlaceholderTitle string `yaml:"placeholderTitle,omitempty"`
	Cache            string `yaml:"cache,omitempty"` // "sqlite" | "none"
}

// GatewayConfig controls the gateway HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// RenderConfig controls how replies are printed.
type RenderConfig struct {
	Markdown *bool  `yaml:"markdown,omitempty"`
	Style    string `yaml:"style,omitempty"` // glamour style name, or "auto"
	WordWrap int    `yaml:"wordWrap,omitempty"`
}

// MarkdownEnabled reports whether replies are rendered as markdown.
func (r RenderConfig) MarkdownEnabled() bool {
	return r.Markdown == nil || *r.Markdown
}

// HooksConfig defines shell commands run on session events.
type HooksConfig struct {
	StreamSettled       []HookEntry `yaml:"streamSettled,omitempty"`
	StreamFailed        []HookEntry `yaml:"streamFailed,omitempty"`
	ConversationDeleted []HookEntry `yaml:"conversationDeleted,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

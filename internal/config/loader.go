package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields lets tokens be stored as ${ENV_VAR} references.
func expandSensitiveFields(cfg *Config) {
	cfg.API.Token = expandEnvVars(cfg.API.Token)
	cfg.API.BaseURL = expandEnvVars(cfg.API.BaseURL)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return &ConfigError{Message: "loading " + f + ": " + err.Error()}
		}
	}
	return nil
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = def.API.BaseURL
	}
	if cfg.API.TimeoutSeconds == 0 {
		cfg.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if cfg.Session.PlaceholderTitle == "" {
		cfg.Session.PlaceholderTitle = def.Session.PlaceholderTitle
	}
	if cfg.Session.Cache == "" {
		cfg.Session.Cache = def.Session.Cache
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
	if cfg.Render.Style == "" {
		cfg.Render.Style = def.Render.Style
	}
	if cfg.Render.WordWrap == 0 {
		cfg.Render.WordWrap = def.Render.WordWrap
	}
}

// applyEnvOverrides reads COMPASS_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMPASS_API_URL"); v != "" {
		cfg.API.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("COMPASS_API_TOKEN"); v != "" && cfg.API.Token == "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("COMPASS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("COMPASS_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("COMPASS_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
}

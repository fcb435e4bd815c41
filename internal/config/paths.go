package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".compass"

// Paths holds resolved filesystem paths for compass data.
type Paths struct {
	Base        string // ~/.compass
	Config      string // ~/.compass/config.yaml
	Credentials string // ~/.compass/credentials
	Token       string // ~/.compass/credentials/token
	Data        string // ~/.compass/data
	Cache       string // ~/.compass/data/conversations.db
	Logs        string // ~/.compass/logs
}

// ResolvePaths computes all standard paths from the home directory.
// If COMPASS_HOME is set, it overrides the default base directory.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("COMPASS_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}
	return PathsAt(base), nil
}

// PathsAt lays out the standard paths under base.
func PathsAt(base string) Paths {
	creds := filepath.Join(base, "credentials")
	data := filepath.Join(base, "data")
	return Paths{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Credentials: creds,
		Token:       filepath.Join(creds, "token"),
		Data:        data,
		Cache:       filepath.Join(data, "conversations.db"),
		Logs:        filepath.Join(base, "logs"),
	}
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Credentials, p.Data, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// ParseConfigPath splits a dot-separated config path such as
// "api.baseUrl" into segments.
func ParseConfigPath(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment: " + raw}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	var current any = root
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, replacing non-map
// intermediates with maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		m, ok := current[key].(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
// Maps left empty by the removal are pruned.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	if len(path) == 1 {
		if _, ok := root[path[0]]; !ok {
			return false
		}
		delete(root, path[0])
		return true
	}
	child, ok := root[path[0]].(map[string]any)
	if !ok || !UnsetValueAtPath(child, path[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(root, path[0])
	}
	return true
}

package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenSource supplies the bearer token for authenticated calls. An empty
// token sends the request unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// FileToken reads the token from a file on every call, so a token written
// by a concurrent login is picked up. A missing file yields an empty token.
type FileToken string

func (f FileToken) Token() (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes token to the file with owner-only permissions.
func (f FileToken) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	return os.WriteFile(string(f), []byte(token+"\n"), 0o600)
}

// Clear removes the token file.
func (f FileToken) Clear() error {
	err := os.Remove(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Chain returns the first non-empty token from its sources.
type Chain []TokenSource

func (c Chain) Token() (string, error) {
	for _, src := range c {
		tok, err := src.Token()
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", nil
}

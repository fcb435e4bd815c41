package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/auth/login", loginRequest{Email: email, Password: password}, false)
	if err != nil {
		return "", err
	}
	var out tokenResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("login: backend returned no token")
	}
	return out.AccessToken, nil
}

// Health queries the backend's unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.withRetry(ctx, "/health", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, false)
		if err != nil {
			return err
		}
		return c.do(req, &h)
	})
	if err != nil {
		return Health{}, fmt.Errorf("health: %w", err)
	}
	return h, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/config"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/render"
	"github.com/soyeahso/compass/internal/session"
	"github.com/soyeahso/compass/internal/store"
)

// errNoCache is returned by offline commands when the cache is disabled.
var errNoCache = errors.New("the local cache is disabled (set session.cache to sqlite)")

// app holds the services a command works with.
type app struct {
	cfg    config.Config
	client *api.Client
	db     *store.DB
	cache  *store.ConversationCache
	hooks  *hooks.Manager
	styles render.Styles
}

// newApp validates the loaded config and builds the backend client, the
// hook manager and, when enabled, the conversation cache. A cache that
// cannot be opened is logged and skipped.
func newApp() (*app, error) {
	if cfgErr != nil {
		return nil, cfgErr
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return nil, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}

	client, err := api.New(api.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout(),
		Retries: cfg.API.RetryCount(),
	}, tokenSource(), log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		client: client,
		hooks:  hooks.NewManager(log),
		styles: render.DefaultStyles(),
	}
	registerHooks(a.hooks, cfg.Hooks)

	if cfg.Session.Cache == "sqlite" {
		if err := a.openCache(); err != nil {
			log.Warn().Err(err).Msg("conversation cache unavailable, continuing without it")
		}
	}
	return a, nil
}

func (a *app) openCache() error {
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("creating data directories: %w", err)
	}
	db, err := store.Open(paths.Cache, log)
	if err != nil {
		return err
	}
	a.db = db
	a.cache = store.NewConversationCache(db)
	return nil
}

// offlineCache returns the cache or errNoCache.
func (a *app) offlineCache() (*store.ConversationCache, error) {
	if a.cache == nil {
		return nil, errNoCache
	}
	return a.cache, nil
}

// newSession builds a session over the backend, mirrored into the cache.
func (a *app) newSession() *session.Store {
	opts := []session.Option{
		session.WithLogger(log),
		session.WithHooks(a.hooks),
		session.WithPlaceholderTitle(a.cfg.Session.PlaceholderTitle),
	}
	if a.cache != nil {
		opts = append(opts, session.WithCache(a.cache))
	}
	return session.New(a.client, opts...)
}

// Close waits for hooks still running from the command, then closes the
// cache.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), hooks.DefaultCommandTimeout)
	defer cancel()
	if err := a.hooks.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("gave up waiting for hooks")
	}
	if a.db != nil {
		a.db.Close()
	}
}

// tokenSource resolves the bearer token: config (which already folds in
// COMPASS_API_TOKEN), then the credentials file written by login.
func tokenSource() api.TokenSource {
	return api.Chain{
		api.StaticToken(cfg.API.Token),
		api.FileToken(paths.Token),
	}
}

// registerHooks wires the shell hooks from config.
func registerHooks(m *hooks.Manager, hc config.HooksConfig) {
	for event, entries := range map[string][]config.HookEntry{
		hooks.EventStreamSettled:       hc.StreamSettled,
		hooks.EventStreamFailed:        hc.StreamFailed,
		hooks.EventConversationDeleted: hc.ConversationDeleted,
	} {
		cmds := make([]hooks.Command, 0, len(entries))
		for _, e := range entries {
			cmds = append(cmds, hooks.Command{Command: e.Command, Timeout: e.TimeoutDuration()})
		}
		m.RegisterCommands(event, cmds)
	}
}

// stateErr turns the error text left by a session operation into an error.
func stateErr(st session.State) error {
	if st.Error == "" {
		return nil
	}
	return errors.New(st.Error)
}

// parseID validates a conversation id argument.
func parseID(s string) (domain.ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("conversation id is required")
	}
	return domain.ID(s), nil
}

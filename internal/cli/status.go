package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/config"
	"github.com/soyeahso/compass/internal/hooks"
	"github.com/soyeahso/compass/internal/store"
	"github.com/soyeahso/compass/internal/version"
)

const statusProbeTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend, credentials, cache and configuration summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "compass %s\n\n", version.Info())

			fmt.Fprintf(out, "Config:  %s\n", paths.Config)
			fmt.Fprintf(out, "Data:    %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:    %s\n", paths.Logs)
			fmt.Fprintln(out)

			switch {
			case cfgErr != nil:
				fmt.Fprintf(out, "Config:  error loading: %v\n", cfgErr)
				return nil
			case !fileExists(paths.Config):
				fmt.Fprintln(out, "Config:  not found (using defaults)")
			}

			fmt.Fprintf(out, "Backend: %s", cfg.API.BaseURL)
			if offline {
				fmt.Fprintln(out, " (not checked)")
			} else {
				fmt.Fprintln(out, probeBackend(cmd.Context()))
			}

			fmt.Fprintf(out, "Token:   %s\n", describeToken())
			printCacheStatus(cmd.Context(), out)

			fmt.Fprintf(out, "Gateway: port=%d bind=%s auth=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, describeGatewayAuth())

			for _, ev := range []string{hooks.EventStreamSettled, hooks.EventStreamFailed, hooks.EventConversationDeleted} {
				if n := hookCount(ev); n > 0 {
					fmt.Fprintf(out, "Hooks:   %s=%d\n", ev, n)
				}
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "skip the backend health check")
	return cmd
}

// probeBackend returns a suffix describing the health endpoint's answer.
func probeBackend(ctx context.Context) string {
	client, err := api.New(api.Config{BaseURL: cfg.API.BaseURL, Timeout: statusProbeTimeout}, nil, log)
	if err != nil {
		return fmt.Sprintf(" (invalid: %v)", err)
	}

	ctx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	h, err := client.Health(ctx)
	if err != nil {
		return fmt.Sprintf(" (unreachable: %v)", err)
	}
	if h.Version != "" {
		return fmt.Sprintf(" (%s, version %s)", h.Status, h.Version)
	}
	return fmt.Sprintf(" (%s)", h.Status)
}

func describeToken() string {
	if cfg.API.Token != "" {
		return "from config or environment"
	}
	tok, err := api.FileToken(paths.Token).Token()
	switch {
	case err != nil:
		return fmt.Sprintf("error reading %s: %v", paths.Token, err)
	case tok == "":
		return "not signed in (run compass login)"
	default:
		return "saved in " + paths.Token
	}
}

func describeGatewayAuth() string {
	if cfg.Gateway.Auth.Token != "" {
		return "configured token"
	}
	if os.Getenv("COMPASS_GATEWAY_TOKEN") != "" {
		return "token from environment"
	}
	return "generated per run"
}

func printCacheStatus(ctx context.Context, out io.Writer) {
	if cfg.Session.Cache != "sqlite" {
		fmt.Fprintln(out, "Cache:   disabled")
		return
	}
	if !fileExists(paths.Cache) {
		fmt.Fprintf(out, "Cache:   %s (empty)\n", paths.Cache)
		return
	}

	db, err := store.Open(paths.Cache, log)
	if err != nil {
		fmt.Fprintf(out, "Cache:   %s (error: %v)\n", paths.Cache, err)
		return
	}
	defer db.Close()

	schema, _ := db.SchemaVersion()
	convs, err := store.NewConversationCache(db).ListConversations(ctx)
	if err != nil {
		fmt.Fprintf(out, "Cache:   %s schema=%d (error: %v)\n", paths.Cache, schema, err)
		return
	}
	fmt.Fprintf(out, "Cache:   %s schema=%d conversations=%d\n", paths.Cache, schema, len(convs))
}

func hookCount(event string) int {
	switch event {
	case hooks.EventStreamSettled:
		return len(cfg.Hooks.StreamSettled)
	case hooks.EventStreamFailed:
		return len(cfg.Hooks.StreamFailed)
	case hooks.EventConversationDeleted:
		return len(cfg.Hooks.ConversationDeleted)
	}
	return 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

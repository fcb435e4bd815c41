package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/compass/internal/gateway"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the chat session to a local UI over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := a.newSession()
			defer sess.Close()

			// Clients get the list in their hello; a failure stays visible
			// in the state they receive.
			sess.FetchConversations(ctx)
			if err := stateErr(sess.State()); err != nil {
				log.Warn().Err(err).Msg("initial conversation fetch failed")
			}

			srv := gateway.New(a.cfg.Gateway, sess, log, gateway.WithHooks(a.hooks))
			if auth := srv.Auth(); auth.Generated {
				fmt.Fprintf(cmd.ErrOrStderr(), "Gateway token for this run: %s\n", auth.Token)
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")
	return cmd
}

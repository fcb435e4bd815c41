// Package cli implements the compass command-line interface.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/soyeahso/compass/internal/config"
	"github.com/soyeahso/compass/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded by the root pre-run
	paths     config.Paths
	cfg       config.Config
	cfgErr    error
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compass",
		Short: "Compass, a terminal client for the assistant chat",
		Long: "Compass talks to the productivity backend's assistant: it streams chat replies,\n" +
			"manages conversations, and can expose the session to a local UI over WebSocket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}

			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}

			// A broken config must not lock the user out of "config" itself,
			// so the error is kept for the commands that need it.
			cfg, cfgErr = config.Load(paths.Config)
			if cfgErr != nil {
				cfg = config.Defaults()
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}

			log, logCloser, err = logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return err
			}
			log = log.Sub("cli")
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logCloser != nil {
				return logCloser.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.compass/config.yaml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newConversationsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

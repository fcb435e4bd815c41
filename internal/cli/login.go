package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/soyeahso/compass/internal/api"
)

func newLoginCmd() *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			in := cmd.InOrStdin()
			br := bufio.NewReader(in)
			out := cmd.ErrOrStderr()

			if email == "" {
				fmt.Fprint(out, "Email: ")
				if email, err = readLine(br); err != nil {
					return err
				}
			}
			if email == "" {
				return errors.New("email is required")
			}

			var password string
			if f, ok := in.(*os.File); ok && !passwordStdin && term.IsTerminal(int(f.Fd())) {
				fmt.Fprint(out, "Password: ")
				raw, err := term.ReadPassword(int(f.Fd()))
				fmt.Fprintln(out)
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				password = string(raw)
			} else {
				if !passwordStdin {
					fmt.Fprint(out, "Password: ")
				}
				if password, err = readLine(br); err != nil {
					return err
				}
			}

			token, err := a.client.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if err := api.FileToken(paths.Token).Save(token); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), a.styles.Success.Render("Signed in as "+email+"."))
			if cfg.API.Token != "" {
				fmt.Fprintln(cmd.OutOrStdout(), a.styles.Muted.Render("Note: api.token in config or COMPASS_API_TOKEN takes precedence over the saved token."))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.FileToken(paths.Token).Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// readLine reads one line, tolerating a missing final newline.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/export"
	"github.com/soyeahso/compass/internal/render"
	"github.com/soyeahso/compass/internal/store"
)

func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "List, show, create, delete and export conversations",
	}

	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsCreateCmd())
	cmd.AddCommand(newConversationsDeleteCmd())
	cmd.AddCommand(newConversationsExportCmd())
	cmd.AddCommand(newConversationsSearchCmd())

	return cmd
}

func newConversationsListCmd() *cobra.Command {
	var offline, asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			convs, err := listConversations(cmd.Context(), a, offline)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if convs == nil {
					convs = []domain.Conversation{}
				}
				return enc.Encode(convs)
			}
			writeConversationTable(cmd.OutOrStdout(), convs, "")
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read from the local cache")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func listConversations(ctx context.Context, a *app, offline bool) ([]domain.Conversation, error) {
	if offline {
		cache, err := a.offlineCache()
		if err != nil {
			return nil, err
		}
		return cache.ListConversations(ctx)
	}

	sess := a.newSession()
	defer sess.Close()
	sess.FetchConversations(ctx)
	st := sess.State()
	if err := stateErr(st); err != nil {
		return nil, err
	}
	return st.Conversations, nil
}

// loadConversation fetches id with its messages from the backend, or from
// the cache when offline.
func loadConversation(ctx context.Context, a *app, id domain.ID, offline bool) (domain.Conversation, error) {
	if offline {
		cache, err := a.offlineCache()
		if err != nil {
			return domain.Conversation{}, err
		}
		conv, err := cache.GetConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Conversation{}, fmt.Errorf("conversation %s is not in the local cache", id)
		}
		return conv, err
	}

	sess := a.newSession()
	defer sess.Close()
	sess.SelectConversation(ctx, id)
	st := sess.State()
	if err := stateErr(st); err != nil {
		return domain.Conversation{}, err
	}
	return *st.Current, nil
}

func newConversationsShowCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := render.New(a.cfg.Render)
			if err != nil {
				return err
			}
			conv, err := loadConversation(cmd.Context(), a, id, offline)
			if err != nil {
				return err
			}
			printTranscript(cmd.OutOrStdout(), conv, r, a.styles)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "read from the local cache")
	return cmd
}

func newConversationsCreateCmd() *cobra.Command {
	var title, contextType, contextID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			conv, err := a.client.CreateConversation(cmd.Context(), api.CreateConversationRequest{
				Title:       title,
				ContextType: contextType,
				ContextID:   domain.ID(contextID),
			})
			if err != nil {
				return err
			}
			if a.cache != nil {
				if err := a.cache.SaveConversation(cmd.Context(), conv); err != nil {
					log.Warn().Err(err).Msg("caching new conversation")
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), a.styles.Success.Render(
				fmt.Sprintf("Created conversation %s (%s)", conv.ID, conv.Title)))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "conversation title")
	cmd.Flags().StringVar(&contextType, "context-type", "", "kind of object the conversation is about")
	cmd.Flags().StringVar(&contextID, "context-id", "", "id of that object")
	return cmd
}

func newConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sess := a.newSession()
			defer sess.Close()
			sess.DeleteConversation(cmd.Context(), id)
			if err := stateErr(sess.State()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), a.styles.Success.Render("Deleted conversation "+id.String()))
			return nil
		},
	}
}

func newConversationsExportCmd() *cobra.Command {
	var (
		format  string
		output  string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a conversation as json, jsonl, markdown or yaml",
		Long: "Writes to stdout by default. With --output, writes to that file, or into\n" +
			"that directory under a generated name when it is a directory.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			exp, err := export.NewExporter(format)
			if err != nil {
				return err
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			conv, err := loadConversation(cmd.Context(), a, id, offline)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return exp.Export(conv, cmd.OutOrStdout())
			}

			target := output
			if info, err := os.Stat(output); err == nil && info.IsDir() {
				target = filepath.Join(output, export.FileName(conv, exp))
			}
			f, err := os.Create(target)
			if err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			if err := exp.Export(conv, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), a.styles.Success.Render("Exported to "+target))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format ("+strings.Join(export.Formats, ", ")+")")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default stdout)")
	cmd.Flags().BoolVar(&offline, "offline", false, "read from the local cache")
	return cmd
}

func newConversationsSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search cached messages",
		Long:  "Full-text search over conversations that have been opened or listed on this machine.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			cache, err := a.offlineCache()
			if err != nil {
				return err
			}
			hits, err := cache.SearchMessages(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matches.")
				return nil
			}
			for _, h := range hits {
				fmt.Fprintf(out, "%s %s\n  %s %s\n",
					a.styles.Title.Render(h.ConversationTitle),
					a.styles.Muted.Render("("+h.ConversationID.String()+")"),
					a.styles.Label(h.Message.Role),
					h.Snippet)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of results")
	return cmd
}

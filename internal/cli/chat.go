package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/compass/internal/api"
	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/render"
	"github.com/soyeahso/compass/internal/session"
)

const replHelp = `Commands:
  /new          start a new conversation
  /list         list conversations
  /open ID      open a conversation
  /delete ID    delete a conversation
  /quit         leave
`

func newChatCmd() *cobra.Command {
	var (
		conversation string
		noStream     bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the assistant",
		Long: "With a message, sends it and prints the reply. Without one, starts an\n" +
			"interactive session. Ctrl-C stops a reply in progress; at the prompt it quits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := render.New(a.cfg.Render)
			if err != nil {
				return err
			}
			sess := a.newSession()
			defer sess.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			ctx, quit := context.WithCancel(ctx)
			defer quit()
			go cancelOnInterrupt(ctx, sess, quit)

			c := &chatter{
				app:      a,
				sess:     sess,
				renderer: r,
				plain:    !a.cfg.Render.MarkdownEnabled(),
				noStream: noStream,
				out:      cmd.OutOrStdout(),
				errOut:   cmd.ErrOrStderr(),
			}

			if conversation != "" {
				id, err := parseID(conversation)
				if err != nil {
					return err
				}
				if err := c.open(ctx, id); err != nil {
					return err
				}
			}
			if len(args) > 0 {
				return c.send(ctx, strings.Join(args, " "))
			}
			return c.repl(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "continue an existing conversation")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")

	return cmd
}

// cancelOnInterrupt makes Ctrl-C abort the reply in flight, or quit when
// there is none.
func cancelOnInterrupt(ctx context.Context, sess *session.Store, quit context.CancelFunc) {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	for {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
			if !sess.Cancel() {
				quit()
				return
			}
		}
	}
}

// chatter drives a session from the terminal.
type chatter struct {
	app      *app
	sess     *session.Store
	renderer render.Renderer
	plain    bool
	noStream bool
	out      io.Writer
	errOut   io.Writer
}

// send submits content and prints the reply. It returns the session's error
// when the reply fails; a cancelled reply is not an error.
func (c *chatter) send(ctx context.Context, content string) error {
	if c.noStream {
		return c.sendOnce(ctx, content)
	}

	flusher := render.NewFlusher(render.FlusherConfig{Sentences: c.plain}, c.renderer, c.out, log)
	started := false
	unsubscribe := c.sess.Subscribe(func(st session.State) {
		if st.Phase != session.PhaseStreaming || st.StreamingContent == "" {
			return
		}
		if !started {
			started = true
			fmt.Fprintln(c.out, c.app.styles.Label(domain.RoleAssistant))
		}
		flusher.Follow(st.StreamingContent)
	})
	defer unsubscribe()

	c.sess.Send(ctx, content)

	st := c.sess.State()
	switch st.Phase {
	case session.PhaseSettled:
		flusher.Flush()
		if !started {
			fmt.Fprintln(c.out, c.app.styles.Label(domain.RoleAssistant))
			fmt.Fprintln(c.out, c.app.styles.Muted.Render("(empty reply)"))
		}
		// A new conversation gets its server id from the refresh; the next
		// turn must carry it.
		c.sess.Wait()
		return nil
	case session.PhaseFailed:
		flusher.Reset()
		return stateErr(st)
	default:
		flusher.Reset()
		fmt.Fprintln(c.errOut, c.app.styles.Muted.Render("(reply cancelled)"))
		return nil
	}
}

// sendOnce uses the non-streaming endpoint, then loads the conversation so
// the next turn continues it.
func (c *chatter) sendOnce(ctx context.Context, content string) error {
	resp, err := c.app.client.Chat(ctx, api.ChatRequest{
		Message:        content,
		ConversationID: c.sess.State().CurrentID(),
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	fmt.Fprintln(c.out, c.app.styles.Label(domain.RoleAssistant))
	c.printContent(resp.Response)

	c.sess.SelectConversation(ctx, resp.ConversationID)
	if err := stateErr(c.sess.State()); err != nil {
		log.Warn().Err(err).Str("conversation", resp.ConversationID.String()).Msg("reply sent but conversation not reloaded")
		c.sess.ClearError()
	}
	return nil
}

// open makes id the current conversation and prints its transcript.
func (c *chatter) open(ctx context.Context, id domain.ID) error {
	c.sess.SelectConversation(ctx, id)
	st := c.sess.State()
	if err := stateErr(st); err != nil {
		return err
	}
	if st.Current != nil {
		printTranscript(c.out, *st.Current, c.renderer, c.app.styles)
	}
	return nil
}

func (c *chatter) printContent(m domain.Message) {
	if m.Role != domain.RoleAssistant {
		fmt.Fprintln(c.out, m.Content)
		return
	}
	out, err := c.renderer.Render(m.Content)
	if err != nil {
		out = m.Content + "\n"
	}
	fmt.Fprint(c.out, out)
}

func (c *chatter) printErr(err error) {
	fmt.Fprintln(c.errOut, c.app.styles.Error.Render("error: ")+err.Error())
}

// repl reads lines until EOF, /quit or ctx is done.
func (c *chatter) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(c.out, c.app.styles.Muted.Render("Type a message, or /help for commands."))
	for {
		fmt.Fprint(c.out, c.app.styles.Label(domain.RoleUser)+"> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "/"):
			quit, err := c.command(ctx, line)
			if err != nil {
				c.printErr(err)
				c.sess.ClearError()
			}
			if quit {
				return nil
			}
		default:
			if err := c.send(ctx, line); err != nil {
				c.printErr(err)
				c.sess.ClearError()
			}
		}
	}
}

// command runs a slash command and reports whether the REPL should end.
func (c *chatter) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprint(c.out, replHelp)
	case "/new":
		c.sess.StartNewConversation()
		fmt.Fprintln(c.out, c.app.styles.Success.Render("Started a new conversation."))
	case "/list":
		c.sess.FetchConversations(ctx)
		st := c.sess.State()
		if err := stateErr(st); err != nil {
			return false, err
		}
		writeConversationTable(c.out, st.Conversations, st.CurrentID())
	case "/open":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		return false, c.open(ctx, id)
	case "/delete":
		id, err := parseID(arg)
		if err != nil {
			return false, err
		}
		c.sess.DeleteConversation(ctx, id)
		if err := stateErr(c.sess.State()); err != nil {
			return false, err
		}
		fmt.Fprintln(c.out, c.app.styles.Success.Render("Deleted conversation "+id.String()+"."))
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

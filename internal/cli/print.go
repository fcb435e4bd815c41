package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/soyeahso/compass/internal/domain"
	"github.com/soyeahso/compass/internal/render"
)

// writeConversationTable prints one conversation per line, marking current.
func writeConversationTable(w io.Writer, convs []domain.Conversation, current domain.ID) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTITLE\tCREATED")
	for _, c := range convs {
		mark := " "
		if !current.IsZero() && c.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\t%s\n", mark, c.ID, c.Title, formatWhen(c.CreatedAt))
	}
	tw.Flush()
}

// printTranscript prints a conversation with role labels. Assistant turns go
// through r.
func printTranscript(w io.Writer, conv domain.Conversation, r render.Renderer, s render.Styles) {
	fmt.Fprintln(w, s.Title.Render(conv.Title))
	if len(conv.Messages) == 0 {
		fmt.Fprintln(w, s.Muted.Render("(no messages)"))
		return
	}
	for _, m := range conv.Messages {
		fmt.Fprintln(w)
		fmt.Fprintln(w, s.Label(m.Role)+" "+s.Muted.Render(formatWhen(m.CreatedAt)))
		if m.Role != domain.RoleAssistant {
			fmt.Fprintln(w, m.Content)
			continue
		}
		out, err := r.Render(m.Content)
		if err != nil {
			out = m.Content + "\n"
		}
		fmt.Fprint(w, out)
	}
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

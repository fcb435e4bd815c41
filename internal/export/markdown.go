package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/soyeahso/compass/internal/domain"
)

// MarkdownExporter writes a readable transcript. Message content is already
// markdown and is copied verbatim.
type MarkdownExporter struct{}

func (MarkdownExporter) Export(conv domain.Conversation, w io.Writer) error {
	bw := bufio.NewWriter(w)

	title := conv.Title
	if title == "" {
		title = domain.DefaultTitle
	}
	fmt.Fprintf(bw, "# %s\n\n", title)
	if !conv.ID.IsZero() {
		fmt.Fprintf(bw, "**Conversation:** %s  \n", conv.ID)
	}
	if !conv.CreatedAt.IsZero() {
		fmt.Fprintf(bw, "**Created:** %s  \n", conv.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(bw, "**Messages:** %d\n", len(conv.Messages))

	for _, m := range sortedMessages(conv.Messages) {
		fmt.Fprintf(bw, "\n---\n\n### %s", roleHeading(m.Role))
		if !m.CreatedAt.IsZero() {
			fmt.Fprintf(bw, " (%s)", m.CreatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(bw, "\n\n%s\n", strings.TrimRight(m.Content, "\n"))
	}
	return bw.Flush()
}

func (MarkdownExporter) Extension() string { return "md" }

func roleHeading(r domain.Role) string {
	switch r {
	case domain.RoleUser:
		return "User"
	case domain.RoleAssistant:
		return "Assistant"
	case domain.RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

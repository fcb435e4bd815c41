// Package export writes conversations to files in several formats.
package export

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/soyeahso/compass/internal/domain"
)

// Exporter writes one conversation in a specific format.
type Exporter interface {
	Export(conv domain.Conversation, w io.Writer) error
	Extension() string
}

// Formats lists the accepted format names.
var Formats = []string{"json", "jsonl", "markdown", "md", "yaml"}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return JSONExporter{}, nil
	case "jsonl":
		return JSONLExporter{}, nil
	case "markdown", "md":
		return MarkdownExporter{}, nil
	case "yaml", "yml":
		return YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (supported: %s)", format, strings.Join(Formats, ", "))
	}
}

// FileName suggests a file name for conv in the exporter's format.
func FileName(conv domain.Conversation, e Exporter) string {
	id := conv.ID.String()
	if id == "" {
		id = "draft"
	}
	return "conversation-" + id + "." + e.Extension()
}

// document is the serialized shape shared by the structured formats.
type document struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
	Messages  []record   `json:"messages" yaml:"messages"`
}

type record struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at,omitzero" yaml:"created_at,omitempty"`
}

func newDocument(conv domain.Conversation) document {
	doc := document{
		ID:        conv.ID.String(),
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		Messages:  make([]record, 0, len(conv.Messages)),
	}
	if !conv.UpdatedAt.IsZero() {
		t := conv.UpdatedAt
		doc.UpdatedAt = &t
	}
	for _, m := range conv.Messages {
		doc.Messages = append(doc.Messages, newRecord(m))
	}
	return doc
}

func newRecord(m domain.Message) record {
	r := record{
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	// Local ids mean nothing outside this process.
	if !m.Provisional() {
		r.ID = m.ID.String()
	}
	return r
}

// sortedMessages orders messages by creation time, keeping the original
// order for equal timestamps.
func sortedMessages(msgs []domain.Message) []domain.Message {
	out := slices.Clone(msgs)
	slices.SortStableFunc(out, func(a, b domain.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out
}

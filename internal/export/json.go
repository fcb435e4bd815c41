package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/soyeahso/compass/internal/domain"
)

// JSONExporter writes the whole conversation as one indented document.
type JSONExporter struct{}

func (JSONExporter) Export(conv domain.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(newDocument(conv)); err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	return nil
}

func (JSONExporter) Extension() string { return "json" }

// JSONLExporter writes one message per line.
type JSONLExporter struct{}

func (JSONLExporter) Export(conv domain.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, m := range sortedMessages(conv.Messages) {
		if err := enc.Encode(newRecord(m)); err != nil {
			return fmt.Errorf("encoding message: %w", err)
		}
	}
	return nil
}

func (JSONLExporter) Extension() string { return "jsonl" }

package export

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/soyeahso/compass/internal/domain"
)

// YAMLExporter writes the conversation as a YAML document.
type YAMLExporter struct{}

func (YAMLExporter) Export(conv domain.Conversation, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(conv)); err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	return enc.Close()
}

func (YAMLExporter) Extension() string { return "yaml" }

// Package render turns assistant replies into terminal output.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/soyeahso/compass/internal/config"
)

// Renderer formats a block of reply text for display.
type Renderer interface {
	Render(text string) (string, error)
}

// Plain writes text unchanged apart from a trailing newline.
type Plain struct{}

func (Plain) Render(text string) (string, error) {
	if strings.HasSuffix(text, "\n") {
		return text, nil
	}
	return text + "\n", nil
}

// Markdown renders with glamour.
type Markdown struct {
	tr *glamour.TermRenderer
}

// NewMarkdown builds a glamour renderer. style is a glamour standard style
// name or "auto"; wrap <= 0 disables wrapping.
func NewMarkdown(style string, wrap int) (*Markdown, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(wrap)}
	switch style {
	case "", "auto":
		opts = append(opts, glamour.WithAutoStyle())
	default:
		opts = append(opts, glamour.WithStandardStyle(style))
	}
	tr, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating markdown renderer: %w", err)
	}
	return &Markdown{tr: tr}, nil
}

func (m *Markdown) Render(text string) (string, error) {
	return m.tr.Render(text)
}

// New returns the renderer selected by cfg.
func New(cfg config.RenderConfig) (Renderer, error) {
	if !cfg.MarkdownEnabled() {
		return Plain{}, nil
	}
	return NewMarkdown(cfg.Style, cfg.WordWrap)
}

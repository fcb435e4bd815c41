package render

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/soyeahso/compass/internal/domain"
)

// Styles are the lipgloss styles used by the CLI.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Title     lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("135")),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("243")),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// Label renders the speaker label for role.
func (s Styles) Label(role domain.Role) string {
	switch role {
	case domain.RoleUser:
		return s.User.Render("you")
	case domain.RoleAssistant:
		return s.Assistant.Render("assistant")
	default:
		return s.Muted.Render(string(role))
	}
}

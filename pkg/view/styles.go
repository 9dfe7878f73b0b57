package view

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/quilllabs/quill/pkg/chat"
)

// Styles holds the lipgloss styles for each transcript element.
type Styles struct {
	UserHeader      lipgloss.Style
	AssistantHeader lipgloss.Style
	SystemHeader    lipgloss.Style
	Prose           lipgloss.Style
	CodeBlock       lipgloss.Style
	LangTag         lipgloss.Style
	ActionHint      lipgloss.Style
	Failed          lipgloss.Style
	Cancelled       lipgloss.Style
}

// DefaultStyles returns terminal-friendly defaults.
func DefaultStyles() Styles {
	return Styles{
		UserHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#87CEEB")),

		AssistantHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#98FB98")),

		SystemHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#888888")),

		Prose: lipgloss.NewStyle(),

		CodeBlock: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#555555")).
			Padding(0, 1),

		LangTag: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB000")).
			Italic(true),

		ActionHint: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true),

		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6347")).
			Bold(true),

		Cancelled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700")),
	}
}

func (s Styles) header(role string) lipgloss.Style {
	switch role {
	case chat.RoleUser:
		return s.UserHeader
	case chat.RoleSystem:
		return s.SystemHeader
	default:
		return s.AssistantHeader
	}
}

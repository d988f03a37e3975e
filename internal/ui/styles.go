package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"bundlealert-miniapp/internal/common/constants"
)

var (
	cText    = lipgloss.Color("#f5f5f7")
	cMuted   = lipgloss.Color("#86868b")
	cAccent  = lipgloss.Color("#007aff")
	cSuccess = lipgloss.Color("#30d158")
	cWarn    = lipgloss.Color("#ff9500")
	cError   = lipgloss.Color("#ff3b30")

	cardStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(cMuted).
			Padding(1, 2).
			Width(64)

	titleStyle    = lipgloss.NewStyle().Foreground(cText).Bold(true)
	subtitleStyle = lipgloss.NewStyle().Foreground(cMuted)
	textStyle     = lipgloss.NewStyle().Foreground(cText)
	mutedStyle    = lipgloss.NewStyle().Foreground(cMuted)
	errorStyle    = lipgloss.NewStyle().Foreground(cError).Bold(true)
	successStyle  = lipgloss.NewStyle().Foreground(cSuccess).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(cWarn)
)

// ButtonVariant selects the button look.
type ButtonVariant int

const (
	ButtonPrimary ButtonVariant = iota
	ButtonSecondary
	ButtonOutline
)

// Card frames body under a title.
func Card(title, subtitle string, body ...string) string {
	parts := []string{titleStyle.Render(title)}
	if subtitle != "" {
		parts = append(parts, subtitleStyle.Render(subtitle))
	}
	for _, b := range body {
		if b != "" {
			parts = append(parts, "", b)
		}
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Button renders a single action; focused buttons get a marker and inverse colors.
func Button(label string, variant ButtonVariant, focused bool) string {
	st := lipgloss.NewStyle().Padding(0, 2)
	switch variant {
	case ButtonPrimary:
		st = st.Foreground(cText).Background(cAccent)
	case ButtonSecondary:
		st = st.Foreground(cText).Background(lipgloss.Color("#3a3a3c"))
	case ButtonOutline:
		st = st.Foreground(cAccent).BorderStyle(lipgloss.NormalBorder()).BorderForeground(cAccent).Padding(0, 1)
	}
	marker := "  "
	if focused {
		marker = "▸ "
		st = st.Bold(true).Underline(true)
	}
	return marker + st.Render(label)
}

// TierBadge renders the tier emoji, name and metal in the tier color.
func TierBadge(tierID string) string {
	t := constants.TierOf(tierID)
	label := t.Emoji + " " + t.Name
	if t.DisplayName != t.Name {
		label += " · " + t.DisplayName
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color(t.Color)).
		Bold(true).
		Render(label)
}

// Benefits renders a bulleted benefit list.
func Benefits(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(mutedStyle.Render("• ") + textStyle.Render(it))
	}
	return b.String()
}

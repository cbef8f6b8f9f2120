package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Avicted/roomchat/internal/notify"
)

var (
	appNameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("117"))

	sentMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))

	recvMsgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("69"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238"))

	activeInputStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("212")).
				Bold(true)

	connectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("114"))

	disconnectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196"))
)

func noticeStyle(level notify.Level) lipgloss.Style {
	switch level {
	case notify.Success:
		return successStyle
	case notify.Warning:
		return warningStyle
	case notify.Info:
		return infoStyle
	default:
		return errorStyle
	}
}

func noticeIcon(level notify.Level) string {
	switch level {
	case notify.Success:
		return "+"
	case notify.Warning:
		return "!"
	case notify.Info:
		return "i"
	default:
		return "x"
	}
}

func centerText(text string, width int) string {
	if width <= 0 {
		return text
	}
	textWidth := lipgloss.Width(text)
	if textWidth >= width {
		return text
	}
	pad := (width - textWidth) / 2
	return strings.Repeat(" ", pad) + text
}

func separator(width int) string {
	w := width - 4
	if w < 1 {
		w = 1
	}
	return separatorStyle.Render("  " + strings.Repeat("─", w))
}

// Package cliui provides reusable terminal styles for engram CLI commands.
package cliui

import "github.com/charmbracelet/lipgloss"

var (
	SuccessMark = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Render("✓")
	FailMark    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("✗")

	KeyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	DimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	WarnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	SectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
)

// Truncate shortens s to max runes, appending an ellipsis when trimmed.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

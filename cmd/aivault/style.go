package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/aivault/internal/lock"
)

var (
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lockedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unlockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// stateBadge renders the lock state for the shell prompt.
func stateBadge(s lock.State) string {
	if s == lock.Unlocked {
		return unlockedStyle.Render(s.String())
	}
	return lockedStyle.Render(s.String())
}

// Package ui holds the terminal styling for the client CLI.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	Primary = lipgloss.Color("#22d3ee") // Cyan
	Success = lipgloss.Color("#10B981") // Emerald
	Warning = lipgloss.Color("#F59E0B") // Amber
	Error   = lipgloss.Color("#EF4444") // Red
	Muted   = lipgloss.Color("#6B7280") // Gray
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	SenderStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)
)

// PrintSuccess prints a success line.
func PrintSuccess(msg string) {
	fmt.Println(SuccessStyle.Render("✓ " + msg))
}

// PrintError prints an error line.
func PrintError(msg string) {
	fmt.Println(ErrorStyle.Render("✗ " + msg))
}

// PrintWarning prints a warning line.
func PrintWarning(msg string) {
	fmt.Println(WarningStyle.Render("! " + msg))
}

// PrintInfo prints a muted status line.
func PrintInfo(msg string) {
	fmt.Println(MutedStyle.Render(msg))
}

// PrintChat prints one chat message.
func PrintChat(sender, text string) {
	fmt.Printf("%s %s\n", SenderStyle.Render(sender+":"), text)
}

package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	Amber    = lipgloss.Color("#e0a526")
	Crimson  = lipgloss.Color("#c0392b")
	OffWhite = lipgloss.Color("#f8f7f4")
	Gray     = lipgloss.Color("#8a8a8a")
)

// Styles holds the TUI styles
type Styles struct {
	Header       lipgloss.Style
	StatusBar    lipgloss.Style
	Connected    lipgloss.Style
	Disconnected lipgloss.Style
	ChatPanel    lipgloss.Style
	InputBar     lipgloss.Style
	UserMsg      lipgloss.Style
	BotMsg       lipgloss.Style
	Streaming    lipgloss.Style
	Help         lipgloss.Style
}

// DefaultStyles returns the stock palette
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Foreground(Teal).
			Bold(true).
			Padding(0, 1),
		StatusBar: lipgloss.NewStyle().
			Background(Teal).
			Foreground(OffWhite).
			Bold(true).
			Padding(0, 1),
		Connected: lipgloss.NewStyle().
			Foreground(Teal).
			Padding(0, 1),
		Disconnected: lipgloss.NewStyle().
			Foreground(Crimson).
			Padding(0, 1),
		ChatPanel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 1),
		InputBar: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Teal).
			Padding(0, 1),
		UserMsg: lipgloss.NewStyle().
			Foreground(OffWhite).
			Bold(true),
		BotMsg: lipgloss.NewStyle().
			Foreground(Teal).
			Bold(true),
		Streaming: lipgloss.NewStyle().
			Foreground(Amber),
		Help: lipgloss.NewStyle().
			Foreground(Gray),
	}
}

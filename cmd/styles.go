package cmd

import "charm.land/lipgloss/v2"

// cliStyles contains the lipgloss styles for chat and demo output.
type cliStyles struct {
	Title  lipgloss.Style
	Prompt lipgloss.Style
	Agent  lipgloss.Style
	System lipgloss.Style
	Error  lipgloss.Style
	Accent lipgloss.Style
}

// defaultStyles returns the default style configuration.
func defaultStyles() cliStyles {
	return cliStyles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4285F4")),
		Prompt: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Agent:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Accent: lipgloss.NewStyle().Bold(true),
	}
}

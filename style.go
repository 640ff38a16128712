package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575")).
		Render

	paragraph = lipgloss.NewStyle().
			Width(78).
			Padding(0, 0, 0, 2).
			Render

	heading = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}).
		Render

	faint = lipgloss.NewStyle().
		Faint(true).
		Render

	warning = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#D9534F", Dark: "#FF6F61"}).
		Render
)

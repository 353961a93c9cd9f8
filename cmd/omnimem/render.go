package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Shared styles for human-mode output.
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	idStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	layerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	hintStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

// renderMemoryLine prints one memory hit in list form.
func renderMemoryLine(id, layer, kind, summary string, score float64) string {
	var b strings.Builder
	b.WriteString(idStyle.Render(shortID(id)))
	b.WriteString(" ")
	b.WriteString(layerStyle.Render(fmt.Sprintf("%-7s", layer)))
	b.WriteString(dimStyle.Render(fmt.Sprintf("%-10s", kind)))
	if score > 0 {
		b.WriteString(scoreStyle.Render(fmt.Sprintf("%5.2f ", score)))
	}
	b.WriteString(summary)
	return b.String()
}

// shortID abbreviates a memory id for list output.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func printOK(format string, args ...any) {
	fmt.Println(okStyle.Render("ok") + " " + fmt.Sprintf(format, args...))
}

func printWarn(format string, args ...any) {
	fmt.Println(warnStyle.Render("warn") + " " + fmt.Sprintf(format, args...))
}

package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// styles colours CLI output. The zero value renders plain text.
type styles struct {
	Online  lipgloss.Style
	Offline lipgloss.Style
	Warn    lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
}

// newStyles returns coloured styles when w is a terminal.
func newStyles(w io.Writer) styles {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok || !(isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return styles{}
	}
	return styles{
		Online:  lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		Offline: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")).Bold(true),
		Header:  lipgloss.NewStyle().Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#767676")),
	}
}

//go:build !wasip1

package remap

import (
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colors = sync.OnceValue(func() palette {
	// The rendered text travels inside a JSON envelope, so the profile is
	// fixed instead of detected from a terminal.
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.ANSI)

	header := r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	gutter := r.NewStyle().Foreground(lipgloss.Color("12"))
	marker := r.NewStyle().Foreground(lipgloss.Color("9"))

	return palette{
		header: func(s string) string { return header.Render(s) },
		gutter: func(s string) string { return gutter.Render(s) },
		marker: func(s string) string { return marker.Render(s) },
	}
})

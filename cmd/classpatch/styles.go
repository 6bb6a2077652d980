package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/skdltmxn/classpatch/pipeline"
)

var (
	errorColor = lipgloss.Color("#CC3333")
	goodColor  = lipgloss.Color("#228B22")
	infoColor  = lipgloss.Color("#4682B4")
	mutedColor = lipgloss.Color("#888888")
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	goodStyle    = lipgloss.NewStyle().Foreground(goodColor).Bold(true)
	headingStyle = lipgloss.NewStyle().Foreground(infoColor).Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(14)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

// field renders one "label value" line.
func field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", labelStyle.Render(label), value)
}

func printReport(w io.Writer, out string, r *pipeline.Report) {
	fmt.Fprintf(w, "%s %s\n", goodStyle.Render("done"), mutedStyle.Render(fmt.Sprintf("(%s, %s)", r.Pass, r.Elapsed.Round(time.Millisecond))))
	field(w, "output", out)
	field(w, "instrumented", r.Count(pipeline.Instrumented))
	field(w, "sites", r.Sites)

	var copied []string
	for _, a := range []pipeline.Action{pipeline.Passthrough, pipeline.Excluded, pipeline.Copied} {
		if n := r.Count(a); n > 0 {
			copied = append(copied, fmt.Sprintf("%d %s", n, a))
		}
	}
	if len(copied) > 0 {
		field(w, "unchanged", strings.Join(copied, ", "))
	}
}

package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"autocapture/archive"
	"autocapture/runner"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// renderSummary formats a run outcome for the terminal.
func renderSummary(sum runner.Summary, root, reportPath string) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Capture summary"))
	b.WriteString("\n")

	count := fmt.Sprintf("%d of %d captured", sum.Succeeded, sum.Total)
	if len(sum.Failed) == 0 {
		b.WriteString(okStyle.Render(count))
	} else {
		b.WriteString(errorStyle.Render(count))
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  in %s", sum.Finished.Sub(sum.Started).Round(100*time.Millisecond))))
	b.WriteString("\n")

	switch {
	case sum.Halted:
		b.WriteString(errorStyle.Render("Stopped: the server refused repeated connections."))
		b.WriteString("\n")
	case sum.Cancelled:
		b.WriteString(errorStyle.Render("Stopped before all URLs were processed."))
		b.WriteString("\n")
	}

	if len(sum.Failed) > 0 {
		b.WriteString("\nFailed:\n")
		for _, f := range sum.Failed {
			fmt.Fprintf(&b, "  %s %s\n", f.URL, mutedStyle.Render("("+string(f.Reason)+")"))
		}
		b.WriteString(mutedStyle.Render("Run `autocapture retry --out " + root + "` to try them again."))
		b.WriteString("\n")
	}

	b.WriteString(mutedStyle.Render("Saved to " + root))
	if reportPath != "" {
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("Report: " + reportPath))
	}
	return panelStyle.Render(b.String())
}

func printSummary(w io.Writer, sum runner.Summary, root, reportPath string) {
	fmt.Fprintln(w, renderSummary(sum, root, reportPath))
}

func printParts(w io.Writer, parts []archive.Part) {
	var total int64
	for _, p := range parts {
		total += p.Size
		fmt.Fprintf(w, "%s  %s\n", p.Path, mutedStyle.Render(fmt.Sprintf("%d files, %s", p.Entries, humanize.IBytes(uint64(p.Size)))))
	}
	if len(parts) > 1 {
		fmt.Fprintf(w, "%s\n", titleStyle.Render(fmt.Sprintf("%d zip files, %s total", len(parts), humanize.IBytes(uint64(total)))))
	}
}

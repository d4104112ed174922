package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// formatSize returns a human-readable binary size such as "1.5 MiB".
func formatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}

	return humanize.IBytes(uint64(bytes))
}

// formatTime returns a compact local timestamp, or "never" for the zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format("2006-01-02 15:04:05")
}

// printTable writes aligned columns. headers and each row must have the
// same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	tw.Flush()
}

// printKV writes key=value lines, the non-interactive form of a table.
func printKV(w io.Writer, headers []string, rows [][]string) {
	for _, row := range rows {
		parts := make([]string, len(row))
		for i, cell := range row {
			parts[i] = headers[i] + "=" + quoteIfNeeded(cell)
		}

		fmt.Fprintln(w, strings.Join(parts, " "))
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}

	return s
}

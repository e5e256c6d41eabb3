// Package ui provides the ambient terminal-output helpers shared by the
// CLI surface and the daemon's own diagnostic output: colored prefixes,
// dimmed/bold text, and TTY detection. Grounded on the teacher's
// ui.Dim/ui.Bold/ui.ERROR_PREFIX/ui.IsTTY usage pattern (run.go, daemon.go),
// whose defining file was not present in the retrieval pack slice.
package ui

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// IsTTY reports whether stdout is attached to a terminal.
var IsTTY = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

// ERROR_PREFIX and WARNING_PREFIX are prepended to error/warning output
// lines, colored when writing to a terminal.
var (
	ERROR_PREFIX   = color.New(color.FgRed, color.Bold).Sprint(" ERROR ")
	WARNING_PREFIX = color.New(color.FgYellow, color.Bold).Sprint(" WARNING ")
)

// Dim renders s in a dimmed terminal color.
func Dim(s string) string {
	return color.New(color.Faint).Sprint(s)
}

// Bold renders s in bold.
func Bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

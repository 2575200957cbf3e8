// Package ui renders CLI output with optional ANSI colors.
package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
	colorError  = 203 // red
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return paint(colorOK, s) }

// RenderWarn returns s in amber.
func RenderWarn(s string) string { return paint(colorWarn, s) }

// RenderError returns s in red.
func RenderError(s string) string { return paint(colorError, s) }

// RenderStatus colors a node execution status the way the canvas shows it:
// finished green, in progress blue, errors red and stopped amber.
func RenderStatus(status string) string {
	switch status {
	case "FINISHED":
		return RenderOK(status)
	case "INPROGRESS":
		return RenderAccent(status)
	case "ERROR":
		return RenderError(status)
	case "STOPPED":
		return RenderWarn(status)
	}
	return RenderMuted(status)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

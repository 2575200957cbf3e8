package ui

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout output should carry ANSI colors.
func ShouldUseColor() bool {
	return colorEnabled(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// colorEnabled applies NO_COLOR (https://no-color.org), then
// CLICOLOR_FORCE=1, then CLICOLOR=0, and otherwise follows tty.
func colorEnabled(getenv func(string) string, tty bool) bool {
	switch {
	case getenv("NO_COLOR") != "":
		return false
	case strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(getenv("CLICOLOR")) == "0":
		return false
	}
	return tty
}

// Width returns the stdout terminal width. COLUMNS overrides detection;
// fallback is used when stdout is not a terminal.
func Width(fallback int) int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return fallback
}

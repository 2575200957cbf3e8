package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/alfredjeanlab/flowcanvas/internal/ui"
	"github.com/spf13/cobra"
)

// Patterns applied to cobra's plain help text.
var (
	// Unindented line ending in ":" such as "Canvas:" or "Flags:".
	reGroupHeader = regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`)

	// Two-space indent, a command name, then the gap before its description.
	reCommand = regexp.MustCompile(`(?m)^(  )(\S+)(  )`)

	// Flag value types, e.g. "--url string", "--interval duration".
	reFlagType = regexp.MustCompile(`(--?\S+\s+)(string|int|float|duration|stringSlice|stringArray)`)

	reDefault = regexp.MustCompile(`\(default "?[^")]*"?\)`)
)

// colorizedHelpFunc renders cobra's usage text with ANSI styling when the
// terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)

		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	s = reGroupHeader.ReplaceAllStringFunc(s, func(match string) string {
		return ui.RenderAccent(strings.TrimSpace(match))
	})

	s = reCommand.ReplaceAllStringFunc(s, func(match string) string {
		parts := reCommand.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		return parts[1] + ui.RenderCommand(parts[2]) + parts[3]
	})

	s = reFlagType.ReplaceAllStringFunc(s, func(match string) string {
		parts := reFlagType.FindStringSubmatch(match)
		if len(parts) != 3 {
			return match
		}
		return parts[1] + ui.RenderMuted(parts[2])
	})

	return reDefault.ReplaceAllStringFunc(s, ui.RenderMuted)
}

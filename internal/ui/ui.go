// Package ui renders CLI output. Colors are used only when stdout is a
// terminal and the environment allows them (NO_COLOR, CLICOLOR_FORCE).
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#2E8B57")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
)

func init() {
	if !IsTTY() {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
}

// IsTTY reports whether stdout is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// IsInteractive reports whether both stdin and stdout are terminals.
func IsInteractive() bool {
	return IsTTY() && term.IsTerminal(int(os.Stdin.Fd()))
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// KeyValues prints aligned "label: value" lines.
func KeyValues(w io.Writer, pairs ...[2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		pad := strings.Repeat(" ", width-len(p[0]))
		fmt.Fprintf(w, "  %s:%s %s\n", labelStyle.Render(p[0]), pad, p[1])
	}
}

// Confirm asks a yes/no question. Without a terminal it returns def
// without prompting.
func Confirm(title, description string, def bool) (bool, error) {
	if !IsInteractive() {
		return def, nil
	}

	answer := def
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&answer).
		Run()
	if err != nil {
		return false, err
	}
	return answer, nil
}

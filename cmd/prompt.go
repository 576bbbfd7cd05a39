package cmd

import (
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// runWithHelp wraps huh fields in a Form with help hints visible at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptConfirm asks a yes/no question using huh TUI. Without a terminal it
// answers no, so destructive commands need --yes in scripts.
func promptConfirm(title, description string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}
	var ok bool
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	if description != "" {
		c = c.Description(description)
	}
	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return ok, nil
}

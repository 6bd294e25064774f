package cli

import (
	"os"

	"golang.org/x/term"
)

func hasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// terminalHeight returns the stdout row count, or fallback when unknown.
func terminalHeight(fallback int) int {
	_, height, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || height <= 0 {
		return fallback
	}
	return height
}

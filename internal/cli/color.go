package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Valid --color values.
var ValidColorModes = []string{"auto", "always", "never"}

var (
	styleName    = color.Bold
	styleVersion = color.Cyan
	styleHash    = color.Gray
	styleOK      = color.Green
	styleWarn    = color.Yellow
	styleError   = color.Red
)

// applyColorMode switches gookit/color rendering for the process. In auto
// mode colors are used only when out is a terminal.
func applyColorMode(mode string, out io.Writer) error {
	switch mode {
	case "never":
		color.Disable()
	case "always":
		color.Enable = true
		color.ForceColor()
	case "auto":
		color.Enable = isTerminal(out)
	default:
		return fmt.Errorf("invalid color mode %q: must be one of %v", mode, ValidColorModes)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

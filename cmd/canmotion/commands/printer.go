package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

func success(w io.Writer, format string, a ...any) {
	green.Fprintf(w, "✓ "+format+"\n", a...)
}

func warning(w io.Writer, format string, a ...any) {
	yellow.Fprintf(w, "! "+format+"\n", a...)
}

func field(w io.Writer, name string, value any) {
	cyan.Fprintf(w, "  %-10s", name)
	fmt.Fprintf(w, " %v\n", value)
}

// fail prints a titled error with hints to w and returns a plain error for
// cobra, which has error printing silenced.
func fail(w io.Writer, title string, err error, hints ...string) error {
	red.Fprintf(w, "%s\n", title)
	if err != nil {
		fmt.Fprintf(w, "\n%v\n", err)
	}
	if len(hints) > 0 {
		fmt.Fprintln(w)
		for _, h := range hints {
			fmt.Fprintf(w, "  - %s\n", h)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", title, err)
	}
	return fmt.Errorf("%s", title)
}

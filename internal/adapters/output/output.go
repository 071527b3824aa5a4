package output

import (
	"io"
	"os"
)

// Printer renders command results.
type Printer interface {
	Print(v any) error
}

// New returns the JSON printer when asJSON is set, otherwise the human one.
func New(w io.Writer, asJSON bool) Printer {
	if w == nil {
		w = os.Stdout
	}
	if asJSON {
		return JSONPrinter{Out: w}
	}
	return HumanPrinter{Out: w}
}

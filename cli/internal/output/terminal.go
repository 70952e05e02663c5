package output

import (
	"io"
	"os"
	"strconv"

	"golang.org/x/term"
)

// widthFromEnv reads COLUMNS, returning 0 when unset or invalid
func widthFromEnv() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return 0
}

// terminalWidth returns the width of the terminal w writes to. COLUMNS
// wins; pipes, files and buffers get defaultWidth.
func terminalWidth(w io.Writer) int {
	if width := widthFromEnv(); width > 0 {
		return width
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		return width
	}
	return defaultWidth
}

// shouldUseCompact determines if compact mode should be used for w
func shouldUseCompact(w io.Writer, opts TableOptions) bool {
	if opts.ForceCompact {
		return true
	}
	return terminalWidth(w) < compactThreshold
}

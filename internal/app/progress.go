package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"disksanitizer/internal/wipe"
)

// TerminalProgress returns a progress bar factory for native overwrite
// passes, or nil when f is not a terminal.
func TerminalProgress(f *os.File) wipe.ProgressFunc {
	if !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func(description string, total int64) io.Writer {
		return progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(f),
			progressbar.OptionSetDescription(description),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(f) }),
		)
	}
}

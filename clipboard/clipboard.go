// Package clipboard copies session reports to the system clipboard.
package clipboard

import (
	"errors"

	cb "github.com/atotto/clipboard"
)

var ErrUnsupported = errors.New("clipboard: no clipboard utility available")

// Copy writes text to the clipboard. On Linux this needs xclip, xsel or
// wl-copy on PATH.
func Copy(text string) error {
	if cb.Unsupported {
		return ErrUnsupported
	}
	return cb.WriteAll(text)
}

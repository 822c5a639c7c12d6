// Package clipboard delivers the final explanation text to the system
// clipboard.
package clipboard

import (
	"golang.design/x/clipboard"
)

// Init checks clipboard availability once per process. It fails on headless
// systems without a clipboard device; callers degrade to stdout-only output.
func Init() error {
	return clipboard.Init()
}

// Write replaces the clipboard contents with text. Init must have succeeded
// first.
func Write(text string) error {
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

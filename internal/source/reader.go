// Package source observes incoming chat messages and feeds them to the
// coordinator.
package source

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// Reader returns the current text of a message source.
type Reader interface {
	Read(ctx context.Context) (string, error)
}

var (
	clipboardReadAll  = clipboard.ReadAll
	clipboardWriteAll = clipboard.WriteAll
)

// ClipboardReader reads the system clipboard.
type ClipboardReader struct{}

func (ClipboardReader) Read(context.Context) (string, error) {
	text, err := clipboardReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

// ClipboardAvailable reports whether a clipboard utility is usable on this
// system.
func ClipboardAvailable() bool {
	return !clipboard.Unsupported
}

// Marker records text quill wrote itself so the next poll ignores it.
type Marker interface {
	Mark(text string)
}

// Copier puts chosen replies on the clipboard.
type Copier struct {
	marker Marker
}

func NewCopier(marker Marker) *Copier {
	return &Copier{marker: marker}
}

// Copy writes text to the clipboard and marks it as seen.
func (c *Copier) Copy(text string) error {
	if c.marker != nil {
		c.marker.Mark(text)
	}
	if err := clipboardWriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// Package window holds the bounded conversational context.
package window

// Window is a FIFO buffer of accepted messages. It is not safe for
// concurrent use; the coordinator loop is its only owner.
type Window struct {
	items []string
	size  int
}

// New returns a window holding at most size messages. Sizes below 1 are
// raised to 1.
func New(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{items: make([]string, 0, size), size: size}
}

// Append adds msg at the tail, evicting the oldest entry when full.
func (w *Window) Append(msg string) {
	if len(w.items) == w.size {
		copy(w.items, w.items[1:])
		w.items = w.items[:len(w.items)-1]
	}
	w.items = append(w.items, msg)
}

// Snapshot returns a copy of the messages, oldest first.
func (w *Window) Snapshot() []string {
	out := make([]string, len(w.items))
	copy(out, w.items)
	return out
}

func (w *Window) Clear() {
	w.items = w.items[:0]
}

func (w *Window) Len() int { return len(w.items) }

func (w *Window) Cap() int { return w.size }

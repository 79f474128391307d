package intake

import (
	"strings"
	"sync"
)

// Tracker owns the last-seen watermark for a single message source.
type Tracker struct {
	filter *Filter

	mu       sync.Mutex
	lastSeen string
}

func NewTracker(filter *Filter) *Tracker {
	return &Tracker{filter: filter}
}

// Observe evaluates raw against the current watermark and advances the
// watermark when the decision says so.
func (t *Tracker) Observe(raw string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.filter.Evaluate(raw, t.lastSeen)
	if d.Advance {
		t.lastSeen = d.Cleaned
	}
	return d
}

// LastSeen returns the current watermark.
func (t *Tracker) LastSeen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}

// Mark moves the watermark to text without evaluating it. Used when quill
// itself writes to the source, so the echo is not treated as a new message.
func (t *Tracker) Mark(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen = strings.TrimSpace(text)
}

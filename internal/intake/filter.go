package intake

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reason explains why a message was rejected.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonEmpty     Reason = "empty"
	ReasonDuplicate Reason = "duplicate"
	ReasonLength    Reason = "length"
	ReasonNoise     Reason = "noise"
	ReasonSelf      Reason = "self_message"
)

// Decision is the outcome of evaluating one observed text.
type Decision struct {
	Accept  bool
	Cleaned string
	Reason  Reason
	// Advance reports whether the caller must move its watermark to Cleaned.
	// It is true for every non-empty, non-duplicate text, including ones
	// rejected by the later rules.
	Advance bool
}

// Options configures a Filter.
type Options struct {
	MinLen       int
	MaxLen       int
	SelfPrefixes []string
	DisplayName  string
}

// Filter validates raw observed text. It holds no mutable state.
type Filter struct {
	minLen   int
	maxLen   int
	prefixes []string
}

func NewFilter(opts Options) *Filter {
	prefixes := make([]string, 0, len(opts.SelfPrefixes)+2)
	for _, p := range opts.SelfPrefixes {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	if name := strings.TrimSpace(opts.DisplayName); name != "" {
		prefixes = append(prefixes, name+":", name+"：")
	}
	return &Filter{minLen: opts.MinLen, maxLen: opts.MaxLen, prefixes: prefixes}
}

// Evaluate applies the intake rules in order: duplicate/empty, length,
// symbol-only noise, self-message prefix.
func (f *Filter) Evaluate(raw, lastSeen string) Decision {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Decision{Reason: ReasonEmpty}
	}
	if text == lastSeen {
		return Decision{Cleaned: text, Reason: ReasonDuplicate}
	}

	d := Decision{Cleaned: text, Advance: true}
	if n := utf8.RuneCountInString(text); n < f.minLen || n > f.maxLen {
		d.Reason = ReasonLength
		return d
	}
	if isNoise(text) {
		d.Reason = ReasonNoise
		return d
	}
	if f.isSelf(text) {
		d.Reason = ReasonSelf
		return d
	}
	d.Accept = true
	return d
}

func (f *Filter) isSelf(text string) bool {
	for _, p := range f.prefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// isNoise reports whether text holds nothing but decimal digits, underscores,
// whitespace, punctuation and symbols.
func isNoise(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return false
		}
		if unicode.IsNumber(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

package suggest

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"strings"
	"unicode"
)

// MaxCandidates is the number of suggestions kept from a model answer.
const MaxCandidates = 3

const (
	maxUnwrapRounds = 3
	wrapperChars    = " \t\n\r\"'“”‘’"
)

var (
	leadingFence  = regexp.MustCompile("^```[a-zA-Z]*")
	trailingFence = regexp.MustCompile("```$")
	enumMarker    = regexp.MustCompile(`^\p{Nd}+[.、)）:：]\s*`)
	multiSpace    = regexp.MustCompile(`[\s\p{Z}]{2,}`)

	escapes = strings.NewReplacer(`\n`, " ", `\"`, `"`, `\'`, "'")
)

// Normalize turns a raw model answer into at most MaxCandidates cleaned
// suggestions. The stages are tried in order and the first one yielding at
// least one item wins: JSON array, inline numbering, lines, whole text.
// It never fails; malformed input degrades to fewer (or zero) items.
func Normalize(raw string) []string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return []string{}
	}

	if items := fromJSONArray(text); len(items) > 0 {
		return limit(items)
	}
	if items := cleanAll(splitNumbered(text)); len(items) > 0 {
		return limit(items)
	}
	if items := cleanAll(splitLines(text)); len(items) > 0 {
		return limit(items)
	}

	last := CleanItem(text)
	if strings.HasPrefix(last, "[") && strings.HasSuffix(last, "]") {
		if elems, ok := decodeArray(last); ok {
			if items := cleanAll(elems); len(items) > 0 {
				return limit(items)
			}
		}
	}
	if last == "" {
		return []string{}
	}
	return []string{last}
}

// CleanItem strips fences, enumeration markers, escapes, quotes and
// bracket wrappers from a single candidate. It is idempotent.
func CleanItem(s string) string {
	cur := s
	// A pass that changes the text shortens it, so len(s)+1 passes reach
	// the fixpoint.
	for i := 0; i <= len(s); i++ {
		next := cleanOnce(cur)
		if next == cur {
			break
		}
		cur = next
	}
	return cur
}

func cleanOnce(item string) string {
	s := strings.TrimSpace(item)
	s = strings.TrimSpace(leadingFence.ReplaceAllString(s, ""))
	s = strings.TrimSpace(trailingFence.ReplaceAllString(s, ""))
	s = enumMarker.ReplaceAllString(s, "")
	s = escapes.Replace(s)

	for i := 0; i < maxUnwrapRounds; i++ {
		prev := s
		s = trimStrayParens(strings.Trim(s, wrapperChars))
		if inner, ok := unwrap(s); ok {
			s = inner
		}
		if s == prev {
			break
		}
	}

	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

// trimStrayParens drops a leading （ or trailing ） that has no partner, so
// "（好的" and "好的）" lose the parenthesis while "好的（笑）" is kept.
func trimStrayParens(s string) string {
	for {
		open, closing := strings.Count(s, "（"), strings.Count(s, "）")
		switch {
		case open > closing && strings.HasPrefix(s, "（"):
			s = strings.TrimSpace(strings.TrimPrefix(s, "（"))
		case closing > open && strings.HasSuffix(s, "）"):
			s = strings.TrimSpace(strings.TrimSuffix(s, "）"))
		default:
			return s
		}
	}
}

// unwrap removes a [..] or （..） wrapper. A JSON array yields its first
// element; anything else yields the inner text.
func unwrap(s string) (string, bool) {
	var inner string
	switch {
	case len(s) >= 2 && strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner = s[1 : len(s)-1]
	case strings.HasPrefix(s, "（") && strings.HasSuffix(s, "）"):
		inner = strings.TrimSuffix(strings.TrimPrefix(s, "（"), "）")
	default:
		return s, false
	}
	if elems, ok := decodeArray(s); ok && len(elems) > 0 {
		return strings.TrimSpace(elems[0]), true
	}
	return strings.TrimSpace(inner), true
}

func fromJSONArray(text string) []string {
	normalized := text
	if strings.HasPrefix(normalized, "```") {
		normalized = strings.TrimSpace(leadingFence.ReplaceAllString(normalized, ""))
		normalized = strings.TrimSpace(trailingFence.ReplaceAllString(normalized, ""))
	}
	start := strings.Index(normalized, "[")
	end := strings.LastIndex(normalized, "]")
	if start < 0 || end <= start {
		return nil
	}
	elems, ok := decodeArray(normalized[start : end+1])
	if !ok {
		return nil
	}
	return cleanAll(elems)
}

// decodeArray parses s as exactly one JSON array and renders every element
// as a string.
func decodeArray(s string) ([]string, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	if arr == nil {
		return nil, false
	}
	out := make([]string, len(arr))
	for i, v := range arr {
		out[i] = stringify(v)
	}
	return out, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return ""
		}
		return strings.TrimSpace(buf.String())
	}
}

// splitNumbered captures the text after each inline "N." style marker up
// to the next marker. A marker is a digit 1-9 at the start of the text or
// after whitespace, followed by one of . 、 ) ） : ：
func splitNumbered(text string) []string {
	r := []rune(text)
	n := len(r)
	markerAt := func(i int) bool {
		return i >= 0 && i+1 < n && r[i] >= '1' && r[i] <= '9' && isEnumMarker(r[i+1])
	}

	var chunks []string
	pos := 0
	for pos < n {
		start := -1
		for j := pos; j < n; j++ {
			if j == 0 && markerAt(0) {
				start = 0
				break
			}
			if unicode.IsSpace(r[j]) && markerAt(j+1) {
				start = j + 1
				break
			}
		}
		if start < 0 {
			break
		}

		body := start + 2
		for body < n && unicode.IsSpace(r[body]) {
			body++
		}
		end := body
		for end < n && !(unicode.IsSpace(r[end]) && markerAt(end+1)) {
			end++
		}
		chunks = append(chunks, string(r[body:end]))
		pos = end
	}
	return chunks
}

func isEnumMarker(r rune) bool {
	switch r {
	case '.', '、', ')', '）', ':', '：':
		return true
	}
	return false
}

func splitLines(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			return true
		}
		return false
	})
}

func cleanAll(items []string) []string {
	var out []string
	for _, item := range items {
		if strings.TrimSpace(item) == "" {
			continue
		}
		if cleaned := CleanItem(item); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}

func limit(items []string) []string {
	if len(items) > MaxCandidates {
		return items[:MaxCandidates]
	}
	return items
}

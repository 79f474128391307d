package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	// DefaultStylePath is where the learned profile is written when no
	// path is configured.
	DefaultStylePath = "data/style_profile.json"

	// MinStyleSamples is the number of recorded choices needed before a
	// profile is built.
	MinStyleSamples = 5
	// MaxStyleSamples bounds how many of the most recent choices are used.
	MaxStyleSamples = 300

	maxCommonEndings = 5
)

var emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}]`)

// StyleProfile summarizes the replies a user has picked so far.
type StyleProfile struct {
	UpdatedAt         time.Time `json:"updated_at"`
	SampleCount       int       `json:"sample_count"`
	AvgLength         int       `json:"avg_length"`
	ConcisePreference string    `json:"concise_preference"`
	QuestionTone      string    `json:"question_tone"`
	EmojiTone         string    `json:"emoji_tone"`
	PunctuationTone   string    `json:"punctuation_tone"`
	CommonEndings     []string  `json:"common_endings"`
	Instruction       string    `json:"instruction"`
}

// BuildStyleProfile derives a profile from chosen reply texts. Length is
// counted in runes.
func BuildStyleProfile(chosen []string, now time.Time) StyleProfile {
	n := len(chosen)

	total, questions, exclaims, emoji := 0, 0, 0, 0
	for _, text := range chosen {
		total += utf8.RuneCountInString(text)
		if strings.ContainsAny(text, "?？") {
			questions++
		}
		if strings.ContainsAny(text, "!！") {
			exclaims++
		}
		emoji += len(emojiPattern.FindAllStringIndex(text, -1))
	}
	avg := max(1, total/max(1, n))

	var concise string
	switch {
	case avg <= 18:
		concise = "偏短句"
	case avg <= 32:
		concise = "中等长度"
	default:
		concise = "偏长句"
	}

	var emojiTone string
	switch {
	case emoji == 0:
		emojiTone = "几乎不用 emoji"
	case emoji < n:
		emojiTone = "偶尔使用 emoji"
	default:
		emojiTone = "较常使用 emoji"
	}

	p := StyleProfile{
		UpdatedAt:         now.UTC().Truncate(time.Second),
		SampleCount:       n,
		AvgLength:         avg,
		ConcisePreference: concise,
		QuestionTone:      ratioTone(questions, n, "少用反问", "偶尔反问", "常用提问句"),
		EmojiTone:         emojiTone,
		PunctuationTone:   ratioTone(exclaims, n, "少用感叹号", "适度感叹", "偏热情感叹"),
		CommonEndings:     commonEndings(chosen),
	}

	rules := []string{
		fmt.Sprintf("句长：%s（平均%d字）", p.ConcisePreference, p.AvgLength),
		fmt.Sprintf("语气：%s，%s，%s", p.QuestionTone, p.PunctuationTone, p.EmojiTone),
	}
	if len(p.CommonEndings) > 0 {
		rules = append(rules, "常见收尾："+strings.Join(p.CommonEndings, "、"))
	}
	rules = append(rules, "尽量贴近以上风格，但保持自然，不要机械复读")
	p.Instruction = strings.Join(rules, "；")
	return p
}

func ratioTone(count, total int, low, mid, high string) string {
	if total <= 0 {
		return low
	}
	r := float64(count) / float64(total)
	switch {
	case r < 0.2:
		return low
	case r < 0.45:
		return mid
	default:
		return high
	}
}

// commonEndings counts the last two and last three runes of every reply and
// returns up to five tails seen at least twice, most frequent first.
func commonEndings(texts []string) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		r := []rune(strings.TrimSpace(text))
		if len(r) < 2 {
			continue
		}
		counts[string(r[len(r)-2:])]++
		counts[string(r[len(r)-min(3, len(r)):])]++
	}

	ranked := make([]string, 0, len(counts))
	for tail, c := range counts {
		if c >= 2 {
			ranked = append(ranked, tail)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > maxCommonEndings {
		ranked = ranked[:maxCommonEndings]
	}
	return ranked
}

// StyleLearner keeps a profile of the user's choices up to date from the
// preference log and persists it as JSON.
type StyleLearner struct {
	logPath     string
	profilePath string
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.RWMutex
	profile *StyleProfile
}

func NewStyleLearner(logPath, profilePath string, logger *slog.Logger) *StyleLearner {
	if profilePath == "" {
		profilePath = DefaultStylePath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StyleLearner{
		logPath:     expandHome(logPath),
		profilePath: expandHome(profilePath),
		now:         time.Now,
		logger:      logger,
	}
}

// Refresh rebuilds the profile from the most recent choices in the log.
// With fewer than MinStyleSamples choices the profile is cleared. A missing
// log counts as empty.
func (l *StyleLearner) Refresh() error {
	chosen, err := l.recentChoices()
	if err != nil {
		return err
	}
	if len(chosen) < MinStyleSamples {
		l.set(nil)
		return nil
	}

	p := BuildStyleProfile(chosen, l.now())
	l.set(&p)
	l.logger.Debug("style profile refreshed", "samples", p.SampleCount, "avg_length", p.AvgLength)

	if err := writeJSONAtomic(l.profilePath, p); err != nil {
		return fmt.Errorf("persist style profile: %w", err)
	}
	return nil
}

// Profile returns a copy of the current profile, or nil when there is not
// enough data yet.
func (l *StyleLearner) Profile() *StyleProfile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.profile == nil {
		return nil
	}
	p := *l.profile
	p.CommonEndings = append([]string{}, l.profile.CommonEndings...)
	return &p
}

// Instruction returns the learned style instruction, or "" without a
// profile.
func (l *StyleLearner) Instruction() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.profile == nil {
		return ""
	}
	return l.profile.Instruction
}

func (l *StyleLearner) set(p *StyleProfile) {
	l.mu.Lock()
	l.profile = p
	l.mu.Unlock()
}

func (l *StyleLearner) recentChoices() ([]string, error) {
	f, err := os.Open(l.logPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()

	var chosen []string
	err = eachRecord(f, func(rec Record, ok bool) {
		if ok {
			chosen = append(chosen, rec.Chosen)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(chosen) > MaxStyleSamples {
		chosen = chosen[len(chosen)-MaxStyleSamples:]
	}
	return chosen, nil
}

// writeJSONAtomic writes v indented to path through a temp file in the same
// directory.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".style-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

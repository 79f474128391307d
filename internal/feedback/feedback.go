// Package feedback records which suggestion the user picked.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultPath is where FileSink writes when no path is configured.
const DefaultPath = "data/preferences.jsonl"

// Record is one preference sample. It is written once and never updated.
type Record struct {
	Timestamp       time.Time `json:"timestamp"`
	SourceMessage   string    `json:"source_message"`
	ContextMessages []string  `json:"context_messages"`
	Candidates      []string  `json:"candidates"`
	Chosen          string    `json:"chosen"`
	Model           string    `json:"model"`
}

// NewRecord copies its slices so the record never aliases caller state.
// The timestamp is stored in UTC with second precision.
func NewRecord(at time.Time, source string, contextMsgs, candidates []string, chosen, model string) Record {
	return Record{
		Timestamp:       at.UTC().Truncate(time.Second),
		SourceMessage:   source,
		ContextMessages: append([]string{}, contextMsgs...),
		Candidates:      append([]string{}, candidates...),
		Chosen:          chosen,
		Model:           model,
	}
}

// ChosenSlot returns the position of Chosen among Candidates, or -1 when
// the user sent something else.
func (r Record) ChosenSlot() int {
	for i, c := range r.Candidates {
		if c == r.Chosen {
			return i
		}
	}
	return -1
}

// Sink accepts records for durable storage.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// FileSink appends records as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	if path == "" {
		path = DefaultPath
	}
	return &FileSink{path: expandHome(path)}
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Append(_ context.Context, rec Record) error {
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write feedback log: %w", err)
	}
	return f.Close()
}

func encodeLine(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return buf.Bytes(), nil
}

// MultiSink appends to every sink in order and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

package feedback

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Summary describes a preference log.
type Summary struct {
	Records   int            `json:"records"`
	Malformed int            `json:"malformed"`
	BySlot    map[int]int    `json:"by_slot"`
	Custom    int            `json:"custom"`
	Models    map[string]int `json:"models"`
	First     time.Time      `json:"first,omitempty"`
	Last      time.Time      `json:"last,omitempty"`
}

// Summarize reads JSON lines from r. Lines that fail to decode are counted
// as malformed and skipped.
func Summarize(r io.Reader) (Summary, error) {
	sum := Summary{
		BySlot: make(map[int]int),
		Models: make(map[string]int),
	}

	err := eachRecord(r, func(rec Record, ok bool) {
		if !ok {
			sum.Malformed++
			return
		}

		sum.Records++
		if slot := rec.ChosenSlot(); slot >= 0 {
			sum.BySlot[slot]++
		} else {
			sum.Custom++
		}
		sum.Models[rec.Model]++

		if !rec.Timestamp.IsZero() {
			if sum.First.IsZero() || rec.Timestamp.Before(sum.First) {
				sum.First = rec.Timestamp
			}
			if rec.Timestamp.After(sum.Last) {
				sum.Last = rec.Timestamp
			}
		}
	})
	if err != nil {
		return sum, err
	}
	return sum, nil
}

// eachRecord calls fn for every non-blank line of r. ok is false when the
// line is not a valid record.
func eachRecord(r io.Reader, fn func(rec Record, ok bool)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			fn(Record{}, false)
			continue
		}
		fn(rec, true)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan feedback log: %w", err)
	}
	return nil
}

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/quill/internal/coordinator"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
)

// LogNotifier writes every event to the structured log. Suggestions are
// rendered as a numbered list, or a placeholder when none survived parsing.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev coordinator.Event) error {
	attrs := []any{"kind", ev.Kind, "status", ev.Status}
	if ev.Request != nil {
		attrs = append(attrs, "request_id", ev.Request.ID)
	}
	switch ev.Kind {
	case coordinator.EventSuggestions:
		attrs = append(attrs, "suggestions", RenderCandidates(ev.Candidates))
	case coordinator.EventFailed, coordinator.EventFeedbackFailed, coordinator.EventUnavailable:
		attrs = append(attrs, "error", ev.Error)
		n.logger.Warn("quill event", attrs...)
		return nil
	}
	n.logger.Info("quill event", attrs...)
	return nil
}

// RenderCandidates formats candidates the way they are shown to a user.
func RenderCandidates(cands []string) string {
	if len(cands) == 0 {
		return "暂无建议"
	}
	var sb strings.Builder
	for i, c := range cands {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, c)
	}
	return sb.String()
}

// Publisher is the subset of the hermes client used for events.
type Publisher interface {
	PublishSuggestions(evt hermes.SuggestionsEvent) error
	PublishFailure(evt hermes.FailureEvent) error
	PublishFeedback(evt hermes.FeedbackEvent) error
}

// HermesNotifier republishes results on NATS.
type HermesNotifier struct {
	pub Publisher
}

func NewHermesNotifier(pub Publisher) *HermesNotifier {
	return &HermesNotifier{pub: pub}
}

func (n *HermesNotifier) Notify(_ context.Context, ev coordinator.Event) error {
	switch ev.Kind {
	case coordinator.EventSuggestions:
		return n.pub.PublishSuggestions(hermes.SuggestionsEvent{
			RequestID:  ev.Request.ID,
			Message:    ev.Request.Message,
			Context:    ev.Request.Context,
			Candidates: nonNil(ev.Candidates),
			Timestamp:  ev.At.UTC(),
		})
	case coordinator.EventFailed:
		evt := hermes.FailureEvent{Error: ev.Error, Timestamp: ev.At.UTC()}
		if ev.Request != nil {
			evt.RequestID = ev.Request.ID
			evt.Message = ev.Request.Message
		}
		return n.pub.PublishFailure(evt)
	case coordinator.EventFeedbackRecorded:
		return n.pub.PublishFeedback(hermes.FeedbackEvent{
			Chosen:     ev.Chosen,
			Candidates: nonNil(ev.Candidates),
			Timestamp:  ev.At.UTC(),
		})
	}
	return nil
}

// SlackPoster is the subset of the slack poster used for events.
type SlackPoster interface {
	PostSuggestions(ctx context.Context, message string, candidates []string) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// SlackNotifier posts suggestions to a channel and remembers the latest
// post so reactions on it can be matched back.
type SlackNotifier struct {
	poster SlackPoster

	mu       sync.Mutex
	latestTS string
}

func NewSlackNotifier(poster SlackPoster) *SlackNotifier {
	return &SlackNotifier{poster: poster}
}

func (n *SlackNotifier) Notify(ctx context.Context, ev coordinator.Event) error {
	switch ev.Kind {
	case coordinator.EventSuggestions:
		if len(ev.Candidates) == 0 {
			return nil
		}
		ts, err := n.poster.PostSuggestions(ctx, ev.Request.Message, ev.Candidates)
		if err != nil {
			return err
		}
		n.mu.Lock()
		n.latestTS = ts
		n.mu.Unlock()
	case coordinator.EventFeedbackRecorded:
		if ts := n.LatestTS(); ts != "" {
			return n.poster.PostThread(ctx, ts, "Recorded: "+ev.Chosen)
		}
	}
	return nil
}

// LatestTS returns the timestamp of the most recent suggestions post.
func (n *SlackNotifier) LatestTS() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.latestTS
}

// ClipboardWriter receives the chosen reply.
type ClipboardWriter interface {
	Copy(text string) error
}

// CopyNotifier puts the chosen reply on the clipboard as soon as it is
// selected, before the record is written. A copy-all request puts every
// suggestion on the clipboard, one per line.
type CopyNotifier struct {
	w ClipboardWriter
}

func NewCopyNotifier(w ClipboardWriter) *CopyNotifier {
	return &CopyNotifier{w: w}
}

func (n *CopyNotifier) Notify(_ context.Context, ev coordinator.Event) error {
	switch ev.Kind {
	case coordinator.EventSelected:
		if ev.Chosen == "" {
			return nil
		}
		return n.w.Copy(ev.Chosen)
	case coordinator.EventCopyAll:
		text := strings.TrimSpace(strings.Join(ev.Candidates, "\n"))
		if text == "" {
			return nil
		}
		return n.w.Copy(text)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

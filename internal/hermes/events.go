package hermes

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	SubjectMessageObserved  = "swarm.quill.message.observed"
	SubjectSuggestionsReady = "swarm.quill.suggestions.ready"
	SubjectGenerationFailed = "swarm.quill.generation.failed"
	SubjectFeedbackRecorded = "swarm.quill.feedback.recorded"
	SubjectRegistered       = "swarm.agent.quill.registered"
	SubjectSlackReaction    = "swarm.slack.reaction"
)

// ObservedMessage is published by other agents that saw an incoming chat
// message and want suggestions for it.
type ObservedMessage struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// ParseObservedMessage decodes and trims an observed message payload.
func ParseObservedMessage(data []byte) (ObservedMessage, error) {
	var msg ObservedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ObservedMessage{}, fmt.Errorf("parse observed message: %w", err)
	}
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return ObservedMessage{}, fmt.Errorf("observed message has no text")
	}
	return msg, nil
}

// SuggestionsEvent is published when a generation call completes.
type SuggestionsEvent struct {
	RequestID  string    `json:"request_id"`
	Message    string    `json:"message"`
	Context    []string  `json:"context"`
	Candidates []string  `json:"candidates"`
	Timestamp  time.Time `json:"timestamp"`
}

// FailureEvent is published when a generation call fails.
type FailureEvent struct {
	RequestID string    `json:"request_id"`
	Message   string    `json:"message"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackEvent is published after a choice is persisted.
type FeedbackEvent struct {
	Chosen     string    `json:"chosen"`
	Candidates []string  `json:"candidates"`
	Timestamp  time.Time `json:"timestamp"`
}

// Registration announces the agent on startup.
type Registration struct {
	Timestamp string `json:"timestamp"`
	Port      string `json:"port"`
	Model     string `json:"model"`
	Source    string `json:"source"`
}

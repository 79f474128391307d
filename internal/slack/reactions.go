package slack

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// ReactionEvent is the structure received from slack-forwarder via NATS.
type ReactionEvent struct {
	Reaction  string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

var choiceEmoji = [...]string{"one", "two", "three"}

// ParseChoice maps a reaction emoji name to a 0-based candidate index.
func ParseChoice(reaction string) (int, bool) {
	for i, name := range choiceEmoji {
		if reaction == name {
			return i, true
		}
	}
	switch reaction {
	case "1", "first_place_medal":
		return 0, true
	case "2", "second_place_medal":
		return 1, true
	case "3", "third_place_medal":
		return 2, true
	}
	return -1, false
}

// ParseReactionEvent parses a NATS message payload from slack-forwarder into a ReactionEvent.
func ParseReactionEvent(data []byte, logger *slog.Logger) (*ReactionEvent, error) {
	// The slack-forwarder publishes events with metadata in a wrapper.
	var wrapper struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse reaction wrapper: %w", err)
	}

	evt := &ReactionEvent{
		Reaction:  wrapper.Metadata["text"],
		UserID:    wrapper.Metadata["user_id"],
		Channel:   wrapper.Metadata["channel_id"],
		MessageTS: wrapper.Metadata["message_ts"],
	}

	if len(evt.Reaction) > 2 && evt.Reaction[0] == ':' && evt.Reaction[len(evt.Reaction)-1] == ':' {
		evt.Reaction = evt.Reaction[1 : len(evt.Reaction)-1]
	}
	if evt.MessageTS == "" {
		logger.Debug("reaction without message_ts", "reaction", evt.Reaction)
	}

	return evt, nil
}

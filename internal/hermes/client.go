package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Client is quill's connection to the swarm bus. Suggestions, failures and
// recorded choices leave through the Publish* helpers; observed messages
// and Slack reactions arrive through the On* helpers.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("quill"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// PublishSuggestions announces a completed generation.
func (c *Client) PublishSuggestions(evt SuggestionsEvent) error {
	return c.Publish(SubjectSuggestionsReady, evt)
}

// PublishFailure announces a failed generation.
func (c *Client) PublishFailure(evt FailureEvent) error {
	return c.Publish(SubjectGenerationFailed, evt)
}

// PublishFeedback announces a persisted choice.
func (c *Client) PublishFeedback(evt FeedbackEvent) error {
	return c.Publish(SubjectFeedbackRecorded, evt)
}

// Register announces the agent. A missing timestamp is set to now.
func (c *Client) Register(reg Registration) error {
	if reg.Timestamp == "" {
		reg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return c.Publish(SubjectRegistered, reg)
}

// OnObservedMessage hands every valid observed message to fn. Payloads
// that do not parse are logged and dropped.
func (c *Client) OnObservedMessage(fn func(ObservedMessage)) error {
	return c.subscribe(SubjectMessageObserved, observedHandler(c.logger, fn))
}

// OnSlackReaction hands every relayed Slack reaction payload to fn.
func (c *Client) OnSlackReaction(fn func(data []byte)) error {
	return c.subscribe(SubjectSlackReaction, func(msg *nats.Msg) { fn(msg.Data) })
}

func observedHandler(logger *slog.Logger, fn func(ObservedMessage)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		obs, err := ParseObservedMessage(msg.Data)
		if err != nil {
			logger.Warn("bad observed message", "subject", msg.Subject, "error", err)
			return
		}
		fn(obs)
	}
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	return c.subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

func (c *Client) subscribe(subject string, h nats.MsgHandler) error {
	sub, err := c.conn.Subscribe(subject, h)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush() error {
	return c.conn.Flush()
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

// Package coordinator runs the single-flight generation loop.
//
// All coordinator state (context window, generation state, pending message
// and last suggestions) is owned by the goroutine running Run. Other
// goroutines interact with it only by sending commands.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/quill/internal/feedback"
	"github.com/MikeSquared-Agency/quill/internal/llm"
	"github.com/MikeSquared-Agency/quill/internal/suggest"
	"github.com/MikeSquared-Agency/quill/internal/window"
)

var (
	ErrNoSuggestions = errors.New("no suggestions to choose from")
	ErrStopped       = errors.New("coordinator stopped")
	ErrInvalidChoice = errors.New("invalid choice")
)

const defaultEventBuffer = 64

// StyleSource supplies the learned style instruction for prompts and is
// refreshed after every recorded choice.
type StyleSource interface {
	Instruction() string
	Refresh() error
}

type Options struct {
	// Generator is nil when generation is unavailable.
	Generator     llm.Generator
	Sink          feedback.Sink
	// Style is nil when style learning is disabled.
	Style         StyleSource
	Model         string
	ContextMemory bool
	WindowSize    int
	// Timeout bounds each generation call. Zero means no deadline.
	Timeout     time.Duration
	EventBuffer int
	Logger      *slog.Logger
	Now         func() time.Time
}

type completion struct {
	req *Request
	res llm.Result
}

type Coordinator struct {
	opts   Options
	logger *slog.Logger

	cmds    chan func(ctx context.Context)
	done    chan completion
	events  chan Event
	stopped chan struct{}
	calls   sync.WaitGroup

	// Owned by the Run goroutine.
	state      State
	pending    *string
	inflight   *Request
	window     *window.Window
	last       *Request
	candidates []string
	status     string
	updatedAt  time.Time
}

func New(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Coordinator{
		opts:    opts,
		logger:  opts.Logger,
		cmds:    make(chan func(ctx context.Context)),
		done:    make(chan completion, 1),
		events:  make(chan Event, opts.EventBuffer),
		stopped: make(chan struct{}),
		window:  window.New(opts.WindowSize),
		status:  statusReady,
	}
}

// Events returns the presentation event stream. It is closed when Run
// returns.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Run processes commands and completions until ctx is cancelled. An
// in-flight call is allowed to finish (its context is cancelled with ctx)
// before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.events)
	defer close(c.stopped)
	defer c.calls.Wait()

	c.logger.Info("coordinator started", "context_memory", c.opts.ContextMemory, "window", c.window.Cap())
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping")
			return nil
		case fn := <-c.cmds:
			fn(ctx)
		case comp := <-c.done:
			c.complete(ctx, comp)
		}
	}
}

// do hands fn to the loop and waits until it has been accepted.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case c.cmds <- fn:
		return nil
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands an accepted message to the coordinator.
func (c *Coordinator) Submit(ctx context.Context, msg string) error {
	return c.do(ctx, func(runCtx context.Context) {
		c.submit(runCtx, msg)
	})
}

// NoteSelfMessage reports that the intake filter dropped a message that
// looked like the user's own.
func (c *Coordinator) NoteSelfMessage(ctx context.Context) error {
	return c.do(ctx, func(context.Context) {
		c.setStatus(statusSelfMessage)
		c.emit(Event{Kind: EventSelfMessage})
	})
}

// ClearContext empties the context window.
func (c *Coordinator) ClearContext(ctx context.Context) error {
	return c.do(ctx, func(context.Context) {
		c.window.Clear()
		c.setStatus(statusCleared)
		c.emit(Event{Kind: EventContextCleared})
	})
}

func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	err := c.do(ctx, func(context.Context) {
		reply <- Status{
			State:       c.state,
			Pending:     c.pending != nil,
			ContextLen:  c.window.Len(),
			LastRequest: c.last,
			Candidates:  append([]string{}, c.candidates...),
			Text:        c.status,
			UpdatedAt:   c.updatedAt,
		}
	})
	if err != nil {
		return Status{}, err
	}
	return <-reply, nil
}

// Select records the candidate at index (0-based) as the user's choice.
func (c *Coordinator) Select(ctx context.Context, index int) (feedback.Record, error) {
	return c.choose(ctx, func(cands []string) (string, error) {
		if index < 0 || index >= len(cands) {
			return "", fmt.Errorf("%w: index %d of %d", ErrInvalidChoice, index, len(cands))
		}
		return cands[index], nil
	})
}

// SelectText records chosen as the user's choice. It need not be one of
// the candidates.
func (c *Coordinator) SelectText(ctx context.Context, chosen string) (feedback.Record, error) {
	return c.choose(ctx, func([]string) (string, error) {
		if chosen == "" {
			return "", fmt.Errorf("%w: empty text", ErrInvalidChoice)
		}
		return chosen, nil
	})
}

// CopyAll returns the last suggestions joined by newlines and announces
// them for copying.
func (c *Coordinator) CopyAll(ctx context.Context) (string, error) {
	type result struct {
		text string
		err  error
	}
	reply := make(chan result, 1)
	err := c.do(ctx, func(context.Context) {
		text := strings.TrimSpace(strings.Join(c.candidates, "\n"))
		if text == "" {
			reply <- result{err: ErrNoSuggestions}
			return
		}
		c.setStatus(statusCopiedAll)
		c.emit(Event{Kind: EventCopyAll, Request: c.last, Candidates: append([]string{}, c.candidates...)})
		reply <- result{text: text}
	})
	if err != nil {
		return "", err
	}
	r := <-reply
	return r.text, r.err
}

type built struct {
	rec feedback.Record
	err error
}

// choose builds the record on the loop and announces the selection, writes
// the record from the caller's goroutine, then reports the outcome back to
// the loop. The selection stands even when the write fails.
func (c *Coordinator) choose(ctx context.Context, pick func([]string) (string, error)) (feedback.Record, error) {
	reply := make(chan built, 1)
	err := c.do(ctx, func(context.Context) {
		if c.last == nil || len(c.candidates) == 0 {
			reply <- built{err: ErrNoSuggestions}
			return
		}
		chosen, err := pick(c.candidates)
		if err != nil {
			reply <- built{err: err}
			return
		}
		c.emit(Event{Kind: EventSelected, Request: c.last, Chosen: chosen, Candidates: append([]string{}, c.candidates...)})
		reply <- built{rec: feedback.NewRecord(c.opts.Now(), c.last.Message, c.last.Context, c.candidates, chosen, c.opts.Model)}
	})
	if err != nil {
		return feedback.Record{}, err
	}
	b := <-reply
	if b.err != nil {
		return feedback.Record{}, b.err
	}

	var writeErr error
	if c.opts.Sink != nil {
		writeErr = c.opts.Sink.Append(ctx, b.rec)
	}
	if writeErr == nil && c.opts.Style != nil {
		if err := c.opts.Style.Refresh(); err != nil {
			c.logger.Warn("style profile refresh failed", "error", err)
		}
	}

	rec := b.rec
	reportErr := c.do(ctx, func(context.Context) {
		if writeErr != nil {
			c.logger.Error("feedback write failed", "error", writeErr)
			c.setStatus("记录偏好失败：" + writeErr.Error())
			c.emit(Event{Kind: EventFeedbackFailed, Chosen: rec.Chosen, Error: writeErr.Error()})
			return
		}
		c.logger.Info("feedback recorded", "slot", rec.ChosenSlot())
		c.setStatus(statusRecorded)
		c.emit(Event{Kind: EventFeedbackRecorded, Chosen: rec.Chosen, Candidates: rec.Candidates})
	})
	if writeErr != nil {
		return rec, fmt.Errorf("append feedback: %w", writeErr)
	}
	if reportErr != nil {
		c.logger.Warn("feedback recorded after coordinator stopped", "error", reportErr)
	}
	return rec, nil
}

func (c *Coordinator) submit(ctx context.Context, msg string) {
	if c.opts.ContextMemory {
		c.window.Append(msg)
	}

	if c.opts.Generator == nil {
		c.logger.Warn("generation unavailable, message dropped")
		c.setStatus(statusUnavailable)
		c.emit(Event{Kind: EventUnavailable, Error: llm.ErrUnavailable.Error()})
		return
	}

	if c.state == Generating {
		c.pending = &msg
		c.logger.Debug("generation in flight, message pending")
		c.setStatus(statusPending)
		c.emit(Event{Kind: EventPending})
		return
	}

	c.issue(ctx, msg)
}

func (c *Coordinator) issue(ctx context.Context, msg string) {
	req := &Request{
		ID:       uuid.NewString(),
		Message:  msg,
		Context:  []string{},
		IssuedAt: c.opts.Now(),
	}
	if c.opts.ContextMemory {
		req.Context = c.window.Snapshot()
	}
	var style string
	if c.opts.Style != nil {
		style = suggest.StyleRule(c.opts.Style.Instruction())
	}
	prompt := suggest.BuildPrompt(msg, req.Context, c.opts.ContextMemory, style)

	c.state = Generating
	c.inflight = req
	c.setStatus(statusGenerating)
	c.emit(Event{Kind: EventGenerating, Request: req})
	c.logger.Info("generation issued", "request_id", req.ID, "context_len", len(req.Context))

	gen := c.opts.Generator
	timeout := c.opts.Timeout
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		c.done <- completion{req: req, res: llm.Call(callCtx, gen, suggest.SystemPrompt, prompt)}
	}()
}

func (c *Coordinator) complete(ctx context.Context, comp completion) {
	c.state = Idle
	c.inflight = nil
	c.last = comp.req

	if comp.res.OK() {
		c.candidates = suggest.Normalize(comp.res.Success.Text)
		switch {
		case len(c.candidates) == 0:
			c.setStatus(statusNoSuggestions)
		case c.opts.ContextMemory:
			c.setStatus(fmt.Sprintf("%s（上下文 %d 条）", statusGenerated, c.window.Len()))
		default:
			c.setStatus(statusGenerated)
		}
		c.logger.Info("suggestions ready", "request_id", comp.req.ID, "count", len(c.candidates))
		c.emit(Event{Kind: EventSuggestions, Request: comp.req, Candidates: append([]string{}, c.candidates...)})
	} else {
		c.candidates = nil
		msg := comp.res.Error()
		c.logger.Warn("generation failed", "request_id", comp.req.ID, "error", msg)
		c.setStatus("生成失败：" + msg)
		c.emit(Event{Kind: EventFailed, Request: comp.req, Error: msg})
	}

	if c.pending != nil {
		next := *c.pending
		c.pending = nil
		c.issue(ctx, next)
	}
}

func (c *Coordinator) setStatus(s string) {
	c.status = s
	c.updatedAt = c.opts.Now()
}

// emit never blocks the loop. Events are dropped when nobody drains them.
func (c *Coordinator) emit(ev Event) {
	ev.Status = c.status
	ev.At = c.opts.Now()
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event buffer full, dropping event", "kind", ev.Kind)
	}
}

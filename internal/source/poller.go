package source

import (
	"context"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/intake"
)

// Submitter receives accepted messages.
type Submitter interface {
	Submit(ctx context.Context, msg string) error
	NoteSelfMessage(ctx context.Context) error
}

// Poller reads a source on a fixed interval and passes new messages through
// the intake tracker.
type Poller struct {
	reader   Reader
	gate     *Gate
	tracker  *intake.Tracker
	target   Submitter
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(reader Reader, gate *Gate, tracker *intake.Tracker, target Submitter, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	return &Poller{
		reader:   reader,
		gate:     gate,
		tracker:  tracker,
		target:   target,
		interval: interval,
		logger:   logger,
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.interval.String())
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single observation.
func (p *Poller) Poll(ctx context.Context) {
	if !p.gate.Allow(ctx) {
		return
	}

	text, err := p.reader.Read(ctx)
	if err != nil {
		p.logger.Debug("source read failed", "error", err)
		return
	}

	Deliver(ctx, p.tracker, p.target, text, p.logger)
}

// Deliver runs text through the tracker and forwards the outcome. It is
// shared by the poller and push-style sources (HTTP, NATS).
func Deliver(ctx context.Context, tracker *intake.Tracker, target Submitter, text string, logger *slog.Logger) intake.Decision {
	d := tracker.Observe(text)
	switch {
	case d.Accept:
		if err := target.Submit(ctx, d.Cleaned); err != nil {
			logger.Warn("submit failed", "error", err)
		}
	case d.Reason == intake.ReasonSelf:
		if err := target.NoteSelfMessage(ctx); err != nil {
			logger.Warn("self-message note failed", "error", err)
		}
	case d.Reason != intake.ReasonDuplicate && d.Reason != intake.ReasonEmpty:
		logger.Debug("message rejected", "reason", string(d.Reason))
	}
	return d
}

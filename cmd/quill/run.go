package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/quill/internal/anthropic"
	"github.com/MikeSquared-Agency/quill/internal/api"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/coordinator"
	"github.com/MikeSquared-Agency/quill/internal/feedback"
	"github.com/MikeSquared-Agency/quill/internal/hermes"
	"github.com/MikeSquared-Agency/quill/internal/intake"
	"github.com/MikeSquared-Agency/quill/internal/llm"
	"github.com/MikeSquared-Agency/quill/internal/llm/openai"
	"github.com/MikeSquared-Agency/quill/internal/relay"
	"github.com/MikeSquared-Agency/quill/internal/slack"
	"github.com/MikeSquared-Agency/quill/internal/source"
	"github.com/MikeSquared-Agency/quill/internal/store"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch for messages and generate reply suggestions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, slog.Default())
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("quill starting", "port", cfg.Port, "source", cfg.Source, "provider", cfg.LLMProvider)

	gen := buildGenerator(cfg, logger)

	// Feedback sinks: the JSONL file always, Postgres when configured.
	fileSink := feedback.NewFileSink(cfg.FeedbackPath)
	sinks := feedback.MultiSink{fileSink}
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, db)
		logger.Info("database connected")
	}
	logger.Info("feedback sink ready", "path", fileSink.Path(), "sinks", len(sinks))

	opts := coordinator.Options{
		Generator:     gen,
		Sink:          sinks,
		Model:         cfg.LLMModel,
		ContextMemory: cfg.ContextMemory,
		WindowSize:    cfg.ContextWindowSize,
		Timeout:       time.Duration(cfg.LLMTimeoutSec) * time.Second,
		Logger:        logger.With("component", "coordinator"),
	}
	if cfg.StyleLearning {
		learner := feedback.NewStyleLearner(fileSink.Path(), cfg.StyleProfilePath, logger)
		if err := learner.Refresh(); err != nil {
			logger.Warn("style profile refresh failed", "error", err)
		}
		opts.Style = learner
		logger.Info("style learning enabled", "profile", cfg.StyleProfilePath, "learned", learner.Profile() != nil)
	}
	coord := coordinator.New(opts)

	filter := intake.NewFilter(intake.Options{
		MinLen:       cfg.MinMessageLen,
		MaxLen:       cfg.MaxMessageLen,
		SelfPrefixes: cfg.SelfPrefixes,
		DisplayName:  cfg.DisplayName,
	})
	notifiers := []relay.Notifier{relay.NewLogNotifier(logger.With("component", "relay"))}

	// Long-running components start together once everything is wired.
	g, gctx := errgroup.WithContext(ctx)
	runners := []func(context.Context) error{coord.Run}

	// Polled source
	interval := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	switch cfg.Source {
	case "clipboard":
		if !source.ClipboardAvailable() {
			logger.Warn("no clipboard utility found, clipboard source will not see messages")
		}
		tracker := intake.NewTracker(filter)
		var gate *source.Gate
		if cfg.TargetOnly {
			gate = source.NewGate(source.NewAppDetector(cfg.TargetAppHints), cfg.StrictForeground, logger)
		}
		poller := source.NewPoller(source.ClipboardReader{}, gate, tracker, coord, interval, logger.With("component", "clipboard"))
		runners = append(runners, poller.Run)
		notifiers = append(notifiers, relay.NewCopyNotifier(source.NewCopier(tracker)))
	case "file":
		reader, err := source.NewFileReader(cfg.SourceFile, logger)
		if err != nil {
			return err
		}
		poller := source.NewPoller(reader, nil, intake.NewTracker(filter), coord, interval, logger.With("component", "file"))
		runners = append(runners, reader.Start, poller.Run)
	default:
		logger.Info("no polled source, accepting messages over HTTP and NATS only")
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer hc.Close()
		hermesClient = hc
		logger.Info("NATS connected", "url", cfg.NatsURL)

		notifiers = append(notifiers, relay.NewHermesNotifier(hc))

		natsTracker := intake.NewTracker(filter)
		if err := hc.OnObservedMessage(func(msg hermes.ObservedMessage) {
			source.Deliver(gctx, natsTracker, coord, msg.Text, logger)
		}); err != nil {
			return err
		}
	}

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster := slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		slackNotifier := relay.NewSlackNotifier(poster)
		notifiers = append(notifiers, slackNotifier)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)

		if hermesClient != nil {
			if err := hermesClient.OnSlackReaction(reactionHandler(gctx, coord, slackNotifier, logger)); err != nil {
				return err
			}
		} else {
			logger.Warn("slack reactions need NATS, choices can only be made over HTTP")
		}
	}

	rel := relay.New(logger, notifiers...)
	runners = append(runners, func(ctx context.Context) error { return rel.Run(ctx, coord.Events()) })

	httpTracker := intake.NewTracker(filter)
	deliver := func(ctx context.Context, text string) intake.Decision {
		return source.Deliver(ctx, httpTracker, coord, text, logger)
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, coord, deliver, logger)
	runners = append(runners, srv.Run)

	for _, r := range runners {
		r := r
		g.Go(func() error { return r(gctx) })
	}

	if hermesClient != nil {
		if err := hermesClient.Register(hermes.Registration{
			Port:   fmt.Sprint(cfg.Port),
			Model:  cfg.LLMModel,
			Source: cfg.Source,
		}); err != nil {
			logger.Warn("failed to publish registration", "error", err)
		}
	}

	logger.Info("quill ready", "port", cfg.Port)
	err := g.Wait()
	logger.Info("quill stopped")
	return err
}

// buildGenerator returns nil when no usable generator is configured; the
// coordinator then reports generation as unavailable.
func buildGenerator(cfg config.Config, logger *slog.Logger) llm.Generator {
	timeout := time.Duration(cfg.LLMTimeoutSec) * time.Second
	switch cfg.LLMProvider {
	case "openai":
		c := openai.New(openai.Config{
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMBaseURL,
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
			Timeout:     timeout,
		}, logger)
		logger.Info("openai-compatible client ready", "base_url", cfg.LLMBaseURL, "model", c.Model())
		return c
	case "anthropic":
		if cfg.LLMAPIKey == "" {
			logger.Warn("anthropic provider selected without an API key, generation unavailable")
			return nil
		}
		c := anthropic.NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTemperature, timeout)
		if cfg.LLMBaseURL != "" {
			c.SetAPIURL(cfg.LLMBaseURL)
		}
		logger.Info("anthropic client ready", "model", c.Model())
		return c
	default:
		logger.Warn("generation disabled")
		return nil
	}
}

type chooser interface {
	Select(ctx context.Context, index int) (feedback.Record, error)
}

// reactionHandler turns :one: :two: :three: reactions on the latest
// suggestions post into a choice.
func reactionHandler(ctx context.Context, coord chooser, posts *relay.SlackNotifier, logger *slog.Logger) func([]byte) {
	return func(data []byte) {
		evt, err := slack.ParseReactionEvent(data, logger)
		if err != nil {
			logger.Warn("bad reaction event", "error", err)
			return
		}
		idx, ok := slack.ParseChoice(evt.Reaction)
		if !ok {
			return
		}
		if latest := posts.LatestTS(); evt.MessageTS == "" || evt.MessageTS != latest {
			logger.Debug("reaction on stale post ignored", "message_ts", evt.MessageTS, "latest", latest)
			return
		}
		if _, err := coord.Select(ctx, idx); err != nil {
			logger.Warn("reaction choice failed", "error", err, "index", idx)
		}
	}
}

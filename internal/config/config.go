package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is built once at startup and treated as read-only afterwards.
type Config struct {
	Port        int    `yaml:"port"`
	NatsURL     string `yaml:"nats_url"`
	NatsToken   string `yaml:"nats_token"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	APIToken    string `yaml:"api_token"`

	LLMProvider    string  `yaml:"llm_provider"` // openai | anthropic
	LLMBaseURL     string  `yaml:"llm_base_url"`
	LLMAPIKey      string  `yaml:"llm_api_key"`
	LLMModel       string  `yaml:"llm_model"`
	LLMTemperature float64 `yaml:"llm_temperature"`
	LLMTimeoutSec  int     `yaml:"llm_timeout_sec"` // 0 disables the per-call deadline

	ContextMemory     bool     `yaml:"context_memory"`
	ContextWindowSize int      `yaml:"context_window_size"`
	SelfPrefixes      []string `yaml:"self_prefixes"`
	DisplayName       string   `yaml:"display_name"`
	MinMessageLen     int      `yaml:"min_message_len"`
	MaxMessageLen     int      `yaml:"max_message_len"`

	Source           string   `yaml:"source"` // clipboard | file | none
	SourceFile       string   `yaml:"source_file"`
	PollIntervalMS   int      `yaml:"poll_interval_ms"`
	TargetOnly       bool     `yaml:"target_only"`
	StrictForeground bool     `yaml:"strict_foreground"`
	TargetAppHints   []string `yaml:"target_app_hints"`

	FeedbackPath     string `yaml:"feedback_path"`
	StyleLearning    bool   `yaml:"style_learning"`
	StyleProfilePath string `yaml:"style_profile_path"`

	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Port:              8760,
		NatsURL:           "",
		LogLevel:          "info",
		LLMProvider:       "openai",
		LLMBaseURL:        "http://127.0.0.1:1234/v1",
		LLMModel:          "lmstudio-community-qwen3-4b-instruct-2507-mlx",
		LLMTemperature:    0.7,
		ContextMemory:     true,
		ContextWindowSize: 6,
		SelfPrefixes:      []string{"我:", "我：", "Me:", "Me："},
		MinMessageLen:     2,
		MaxMessageLen:     1200,
		Source:            "clipboard",
		PollIntervalMS:    800,
		TargetOnly:        true,
		StrictForeground:  false,
		TargetAppHints:    []string{"WeChat", "微信"},
		FeedbackPath:      "data/preferences.jsonl",
		StyleLearning:     true,
		StyleProfilePath:  "data/style_profile.json",
	}
}

// Load applies the optional YAML file named by QUILL_CONFIG and then the
// environment on top of Defaults. Environment values win.
func Load() (Config, error) {
	cfg := Defaults()
	if path := envStr("QUILL_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("QUILL_PORT", cfg.Port)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsToken = envStr("NATS_TOKEN", cfg.NatsToken)
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = envStr("QUILL_API_TOKEN", cfg.APIToken)

	cfg.LLMProvider = envStr("QUILL_LLM_PROVIDER", cfg.LLMProvider)
	cfg.LLMBaseURL = envStr("QUILL_LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = envStr("QUILL_LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = envStr("QUILL_MODEL", cfg.LLMModel)
	cfg.LLMTemperature = envFloat("QUILL_LLM_TEMPERATURE", cfg.LLMTemperature)
	cfg.LLMTimeoutSec = envInt("QUILL_LLM_TIMEOUT_SEC", cfg.LLMTimeoutSec)

	cfg.ContextMemory = envBool("QUILL_CONTEXT_MEMORY", cfg.ContextMemory)
	cfg.ContextWindowSize = envInt("QUILL_CONTEXT_WINDOW", cfg.ContextWindowSize)
	cfg.SelfPrefixes = envList("QUILL_SELF_PREFIXES", cfg.SelfPrefixes)
	cfg.DisplayName = envStr("QUILL_DISPLAY_NAME", cfg.DisplayName)
	cfg.MinMessageLen = envInt("QUILL_MIN_MESSAGE_LEN", cfg.MinMessageLen)
	cfg.MaxMessageLen = envInt("QUILL_MAX_MESSAGE_LEN", cfg.MaxMessageLen)

	cfg.Source = envStr("QUILL_SOURCE", cfg.Source)
	cfg.SourceFile = envStr("QUILL_SOURCE_FILE", cfg.SourceFile)
	cfg.PollIntervalMS = envInt("QUILL_POLL_INTERVAL_MS", cfg.PollIntervalMS)
	cfg.TargetOnly = envBool("QUILL_TARGET_ONLY", cfg.TargetOnly)
	cfg.StrictForeground = envBool("QUILL_STRICT_FOREGROUND", cfg.StrictForeground)
	cfg.TargetAppHints = envList("QUILL_TARGET_APP_HINTS", cfg.TargetAppHints)

	cfg.FeedbackPath = envStr("QUILL_FEEDBACK_PATH", cfg.FeedbackPath)
	cfg.StyleLearning = envBool("QUILL_STYLE_LEARNING", cfg.StyleLearning)
	cfg.StyleProfilePath = envStr("QUILL_STYLE_PROFILE_PATH", cfg.StyleProfilePath)

	cfg.SlackBotToken = envStr("SLACK_BOT_TOKEN", cfg.SlackBotToken)
	cfg.SlackChannel = envStr("SLACK_SUGGESTIONS_CHANNEL", cfg.SlackChannel)
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.ContextWindowSize < 1 {
		errs = append(errs, fmt.Errorf("context window size must be >= 1, got %d", c.ContextWindowSize))
	}
	if c.MinMessageLen < 0 || c.MaxMessageLen < c.MinMessageLen {
		errs = append(errs, fmt.Errorf("invalid message length bounds [%d, %d]", c.MinMessageLen, c.MaxMessageLen))
	}
	if c.PollIntervalMS <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %d", c.PollIntervalMS))
	}
	if c.LLMTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("llm timeout must not be negative, got %d", c.LLMTimeoutSec))
	}
	switch c.LLMProvider {
	case "openai", "anthropic", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	switch c.Source {
	case "clipboard", "none":
	case "file":
		if strings.TrimSpace(c.SourceFile) == "" {
			errs = append(errs, errors.New("source file is required when source=file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", c.Source))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Package config loads the service configuration from an optional YAML file
// and INBOX_* environment variables, applies defaults and validates it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration wraps every loading or validation failure.
var ErrConfiguration = errors.New("configuration error")

// Job names shared by the scheduler, its config and the ops surface.
const (
	JobFollowUp    = "followup_processor"
	JobBufferFlush = "buffer_flush"
	JobDailyReport = "daily_report"
	JobMaintenance = "store_maintenance"
)

// Config is the process configuration. Workspace policy lives in the
// database, not here.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	FollowUp  FollowUpConfig  `mapstructure:"followup"`
	NATS      NATSConfig      `mapstructure:"nats"`
	HTTP      HTTPConfig      `mapstructure:"http"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// LLMConfig selects and tunes the language-model provider. Provider "none",
// or an empty APIKey, runs every component on its fallback path.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"        validate:"oneof=gemini openai none"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"        validate:"omitempty,url"`
	Model          string        `mapstructure:"model"           validate:"required"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float32       `mapstructure:"temperature"     validate:"min=0,max=2"`
	Timeout        time.Duration `mapstructure:"timeout"         validate:"min=1s,max=10m"`
	MaxRetries     int           `mapstructure:"max_retries"     validate:"min=0,max=10"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

type TelegramConfig struct {
	Token       string           `mapstructure:"token"`
	AdminID     int64            `mapstructure:"admin_id"     validate:"gte=0"`
	WorkspaceID string           `mapstructure:"workspace_id" validate:"required"`
	Messages    TelegramMessages `mapstructure:"messages"`
}

type TelegramMessages struct {
	Welcome       string `mapstructure:"welcome"        validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized" validate:"required"`
	ResolveUsage  string `mapstructure:"resolve_usage"  validate:"required"`
	GeneralError  string `mapstructure:"general_error"  validate:"required"`
}

// EngineConfig tunes the decision cycle.
type EngineConfig struct {
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout"        validate:"min=1s"`
	HistoryLimit        int           `mapstructure:"history_limit"        validate:"min=1,max=100"`
	KnowledgeTopK       int           `mapstructure:"knowledge_top_k"      validate:"min=1"`
	KnowledgeMaxTokens  int           `mapstructure:"knowledge_max_tokens" validate:"min=100"`
	RepetitionThreshold float64       `mapstructure:"repetition_threshold" validate:"gt=0,lte=1"`
	RepetitionWords     int           `mapstructure:"repetition_words"     validate:"min=1"`
}

type BufferConfig struct {
	Debounce         time.Duration `mapstructure:"debounce"          validate:"min=100ms"`
	MaxWait          time.Duration `mapstructure:"max_wait"          validate:"gtefield=Debounce"`
	FlushConcurrency int           `mapstructure:"flush_concurrency" validate:"min=1,max=64"`
}

// JobConfig configures one recurring job.
type JobConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"min=1s"`
}

type SchedulerConfig struct {
	Jobs map[string]JobConfig `mapstructure:"jobs" validate:"dive"`
}

type FollowUpConfig struct {
	ReplyWindow time.Duration `mapstructure:"reply_window" validate:"min=1m"`
	LeadTime    time.Duration `mapstructure:"lead_time"    validate:"ltfield=ReplyWindow"`
	BatchSize   int           `mapstructure:"batch_size"   validate:"min=1,max=1000"`
	// StaleAfter fails follow-ups left in processing this long.
	StaleAfter time.Duration `mapstructure:"stale_after" validate:"min=1m"`
	// Retention keeps finished follow-ups this long before maintenance deletes them.
	Retention time.Duration `mapstructure:"retention" validate:"min=24h"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// Every key needs a default, even an empty one, so AutomaticEnv can
// override it during Unmarshal.
var defaults = map[string]any{
	"log.level": "info",
	"log.json":  false,

	"database.path": "inboxpilot.db",

	"llm.provider":        "gemini",
	"llm.api_key":         "",
	"llm.base_url":        "",
	"llm.model":           "gemini-2.5-flash",
	"llm.embedding_model": "text-embedding-004",
	"llm.temperature":     0.4,
	"llm.timeout":         "30s",
	"llm.max_retries":     2,
	"llm.retry_delay":     "2s",

	"telegram.token":                   "",
	"telegram.admin_id":                0,
	"telegram.workspace_id":            "default",
	"telegram.messages.welcome":        "Hi! Send us a message and we'll get right back to you.",
	"telegram.messages.not_authorized": "Sorry, that command is for the team only.",
	"telegram.messages.resolve_usage":  "Usage: /resolve <conversation-id>",
	"telegram.messages.general_error":  "Something went wrong. Please try again later.",

	"engine.cycle_timeout":        "90s",
	"engine.history_limit":        10,
	"engine.knowledge_top_k":      5,
	"engine.knowledge_max_tokens": 1500,
	"engine.repetition_threshold": 0.7,
	"engine.repetition_words":     8,

	"buffer.debounce":          "8s",
	"buffer.max_wait":          "30s",
	"buffer.flush_concurrency": 8,

	"scheduler.jobs." + JobFollowUp + ".enabled":     true,
	"scheduler.jobs." + JobFollowUp + ".interval":    "5m",
	"scheduler.jobs." + JobBufferFlush + ".enabled":  true,
	"scheduler.jobs." + JobBufferFlush + ".interval": "2s",
	"scheduler.jobs." + JobDailyReport + ".enabled":  true,
	"scheduler.jobs." + JobDailyReport + ".interval": "24h",
	"scheduler.jobs." + JobMaintenance + ".enabled":  true,
	"scheduler.jobs." + JobMaintenance + ".interval": "6h",

	"followup.reply_window": "24h",
	"followup.lead_time":    "2h",
	"followup.batch_size":   50,
	"followup.stale_after":  "1h",
	"followup.retention":    "720h",

	"nats.url":            "",
	"nats.subject_prefix": "inbox.escalations",

	"http.enabled": true,
	"http.addr":    ":8080",
}

// LoadConfig reads the YAML file at path (a missing file is not an error),
// overlays INBOX_* environment variables and validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read %s: %w", ErrConfiguration, path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %w", ErrConfiguration, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// Job returns the configuration of the named job and whether it is known.
func (c SchedulerConfig) Job(name string) (JobConfig, bool) {
	job, ok := c.Jobs[name]
	return job, ok
}

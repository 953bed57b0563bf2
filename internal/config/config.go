// Package config provides configuration loading, validation, and defaults
// for the Warden moderation bot. Values come from config.yaml and can be
// overridden with BOT_* environment variables.
package config

import (
	"time"
)

// Config defines all application configuration parameters.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig controls the SQLite connection.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TelegramConfig holds transport settings.
type TelegramConfig struct {
	Token   string `mapstructure:"token"    validate:"required"`
	AdminID int64  `mapstructure:"admin_id" validate:"required,gt=0"`
}

// DetectionConfig holds detection-engine policy. All thresholds are
// admin-configurable; none of the legacy constant sets is authoritative.
type DetectionConfig struct {
	// AutoBanThreshold and ReviewThreshold split net confidence into the
	// Pass / Review / AutoBan bands.
	AutoBanThreshold int `mapstructure:"autoban_threshold" validate:"min=0,max=100"`
	ReviewThreshold  int `mapstructure:"review_threshold"  validate:"min=0,max=100"`

	// TrainingMode demotes every AutoBan classification to Review so
	// thresholds can be validated before enforcement is switched on.
	TrainingMode bool `mapstructure:"training_mode"`

	// Timeout is the single shared deadline for one message's check set.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s,max=5m"`

	// CacheTTL bounds how long provider verdicts are reused for identical
	// message fingerprints.
	CacheTTL  time.Duration `mapstructure:"cache_ttl"  validate:"min=1s"`
	CacheSize int           `mapstructure:"cache_size" validate:"min=1"`

	// MinMessageLength gates the expensive checks; shorter messages are
	// only scanned by the cheap heuristics.
	MinMessageLength int `mapstructure:"min_message_length" validate:"min=0"`

	// StopPhrases and MaxEmoji configure the heuristic checks.
	StopPhrases []string `mapstructure:"stop_phrases"`
	MaxEmoji    int      `mapstructure:"max_emoji"`

	// Weights maps check name to its aggregation weight; unlisted checks
	// weigh 1.0.
	Weights map[string]float64 `mapstructure:"weights"`
}

// OpenAIConfig configures the chat-completion spam check.
type OpenAIConfig struct {
	Token       string        `mapstructure:"token"`
	BaseURL     string        `mapstructure:"base_url"    validate:"omitempty,url"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	Prompt      string        `mapstructure:"prompt"`
	Timeout     time.Duration `mapstructure:"timeout"     validate:"min=1s,max=10m"`

	// VetoMode makes this check run only when cheaper checks already
	// flagged the message, and lets its clean verdict override them.
	VetoMode bool `mapstructure:"veto_mode"`

	// HistoryContext includes recent chat messages in the prompt.
	HistoryContext bool `mapstructure:"history_context"`
}

// GeminiConfig configures the photo spam check.
type GeminiConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries  int     `mapstructure:"max_retries" validate:"min=0,max=10"`
}

// ModerationConfig holds orchestration policy.
type ModerationConfig struct {
	// WarningThreshold is the warning count at which an automatic ban is
	// issued.
	WarningThreshold int `mapstructure:"warning_threshold" validate:"min=1"`

	// ProtectedAccountIDs can never be moderation targets. Telegram's
	// service account (777000) is always included.
	ProtectedAccountIDs []int64 `mapstructure:"protected_account_ids"`
}

// JobsConfig holds background-job policy.
type JobsConfig struct {
	// CleanupDelay postpones the cross-chat sweep after a ban so a spam
	// burst finishes posting before the sweep runs.
	CleanupDelay time.Duration `mapstructure:"cleanup_delay" validate:"min=1s"`

	// CleanupDedupWindow collapses repeated cleanup triggers for the same
	// user into one job.
	CleanupDedupWindow time.Duration `mapstructure:"cleanup_dedup_window" validate:"min=1s"`

	// RetrainDebounce bounds how often training-sample capture may kick
	// the ML retraining job.
	RetrainDebounce time.Duration `mapstructure:"retrain_debounce" validate:"min=1s"`
}

// TelegramServiceAccountID is Telegram's own service/system account. It is a
// protected account regardless of configuration.
const TelegramServiceAccountID int64 = 777000

// Weight returns the aggregation weight for a check name, defaulting to 1.0.
func (c DetectionConfig) Weight(checkName string) float64 {
	if w, ok := c.Weights[checkName]; ok && w > 0 {
		return w
	}
	return 1.0
}

// IsProtected reports whether userID may never be a moderation target.
func (c ModerationConfig) IsProtected(userID int64) bool {
	if userID == TelegramServiceAccountID {
		return true
	}
	for _, id := range c.ProtectedAccountIDs {
		if id == userID {
			return true
		}
	}
	return false
}

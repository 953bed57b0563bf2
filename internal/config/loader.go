package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration in order of precedence:
// 1. Default values
// 2. The YAML file at configPath
// 3. BOT_* environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Missing config file is fine, defaults plus env cover it.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !strings.Contains(err.Error(), "no such file") {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Detection.ReviewThreshold > cfg.Detection.AutoBanThreshold {
		return nil, fmt.Errorf("config validation failed: review_threshold (%d) must not exceed autoban_threshold (%d)",
			cfg.Detection.ReviewThreshold, cfg.Detection.AutoBanThreshold)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "warden.db")

	v.SetDefault("detection.autoban_threshold", 85)
	v.SetDefault("detection.review_threshold", 70)
	v.SetDefault("detection.training_mode", false)
	v.SetDefault("detection.timeout", 30*time.Second)
	v.SetDefault("detection.cache_ttl", time.Hour)
	v.SetDefault("detection.cache_size", 4096)
	v.SetDefault("detection.min_message_length", 8)
	v.SetDefault("detection.max_emoji", 10)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.timeout", 20*time.Second)
	v.SetDefault("openai.veto_mode", true)
	v.SetDefault("openai.history_context", false)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.max_retries", 2)

	v.SetDefault("moderation.warning_threshold", 3)
	v.SetDefault("moderation.protected_account_ids", []int64{TelegramServiceAccountID})

	v.SetDefault("jobs.cleanup_delay", 15*time.Second)
	v.SetDefault("jobs.cleanup_dedup_window", 30*time.Second)
	v.SetDefault("jobs.retrain_debounce", 10*time.Minute)
}

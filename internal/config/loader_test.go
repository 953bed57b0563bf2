package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
telegram:
  token: "123456:test-token"
  admin_id: 1000
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, 85, cfg.Detection.AutoBanThreshold)
	assert.Equal(t, 70, cfg.Detection.ReviewThreshold)
	assert.False(t, cfg.Detection.TrainingMode)
	assert.Equal(t, 30*time.Second, cfg.Detection.Timeout)
	assert.Equal(t, time.Hour, cfg.Detection.CacheTTL)
	assert.Equal(t, 8, cfg.Detection.MinMessageLength)
	assert.True(t, cfg.OpenAI.VetoMode)
	assert.Equal(t, 3, cfg.Moderation.WarningThreshold)
	assert.Equal(t, 15*time.Second, cfg.Jobs.CleanupDelay)
	assert.Equal(t, 30*time.Second, cfg.Jobs.CleanupDedupWindow)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.RetrainDebounce)
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
detection:
  autoban_threshold: 90
  review_threshold: 60
  training_mode: true
  weights:
    openai_spam: 2.5
moderation:
  warning_threshold: 5
  protected_account_ids: [42]
`))
	require.NoError(t, err)

	assert.Equal(t, 90, cfg.Detection.AutoBanThreshold)
	assert.Equal(t, 60, cfg.Detection.ReviewThreshold)
	assert.True(t, cfg.Detection.TrainingMode)
	assert.Equal(t, 5, cfg.Moderation.WarningThreshold)
	assert.InDelta(t, 2.5, cfg.Detection.Weight("openai_spam"), 0.001)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
telegram:
  admin_id: 1000
`))
		assert.Error(t, err)
	})

	t.Run("review threshold above autoban threshold", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, minimalConfig+`
detection:
  autoban_threshold: 60
  review_threshold: 80
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "review_threshold")
	})

	t.Run("invalid log level", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, minimalConfig+`
logger:
  level: verbose
`))
		assert.Error(t, err)
	})
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BOT_DETECTION_AUTOBAN_THRESHOLD", "95")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, 95, cfg.Detection.AutoBanThreshold)
}

func TestWeightDefault(t *testing.T) {
	t.Parallel()

	cfg := DetectionConfig{Weights: map[string]float64{"stop_phrase": 2.0, "broken": -1}}

	assert.InDelta(t, 2.0, cfg.Weight("stop_phrase"), 0.001)
	assert.InDelta(t, 1.0, cfg.Weight("unlisted"), 0.001)
	assert.InDelta(t, 1.0, cfg.Weight("broken"), 0.001, "non-positive weights fall back to the default")
}

func TestIsProtected(t *testing.T) {
	t.Parallel()

	cfg := ModerationConfig{ProtectedAccountIDs: []int64{42}}

	assert.True(t, cfg.IsProtected(TelegramServiceAccountID), "the service account is always protected")
	assert.True(t, cfg.IsProtected(42))
	assert.False(t, cfg.IsProtected(7))
}

package handlers

import (
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tg-warden/warden/internal/detection"
	"github.com/tg-warden/warden/internal/moderation"
)

func TestCommandTarget(t *testing.T) {
	t.Parallel()

	t.Run("reply takes precedence", func(t *testing.T) {
		t.Parallel()
		msg := &models.Message{
			Text: "/warden_ban posting scams",
			ReplyToMessage: &models.Message{
				From: &models.User{ID: 7, Username: "spammer"},
			},
		}

		target, reason, ok := commandTarget(msg)
		require.True(t, ok)
		assert.EqualValues(t, 7, target.ID)
		assert.Equal(t, "spammer", target.Name)
		assert.Equal(t, "posting scams", reason)
	})

	t.Run("explicit user id argument", func(t *testing.T) {
		t.Parallel()
		msg := &models.Message{Text: "/warden_ban 12345 repeated spam"}

		target, reason, ok := commandTarget(msg)
		require.True(t, ok)
		assert.EqualValues(t, 12345, target.ID)
		assert.Equal(t, "repeated spam", reason)
	})

	t.Run("no target", func(t *testing.T) {
		t.Parallel()
		_, _, ok := commandTarget(&models.Message{Text: "/warden_ban"})
		assert.False(t, ok)
	})

	t.Run("non-numeric argument without reply", func(t *testing.T) {
		t.Parallel()
		_, _, ok := commandTarget(&models.Message{Text: "/warden_ban @username spam"})
		assert.False(t, ok)
	})

	t.Run("reply without reason", func(t *testing.T) {
		t.Parallel()
		msg := &models.Message{
			Text:           "/warden_warn",
			ReplyToMessage: &models.Message{From: &models.User{ID: 7}},
		}

		target, reason, ok := commandTarget(msg)
		require.True(t, ok)
		assert.EqualValues(t, 7, target.ID)
		assert.Empty(t, reason)
	})
}

func TestResultText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		action   string
		result   moderation.Result
		expected string
	}{
		{
			name:     "failure carries the error",
			action:   "ban",
			result:   moderation.Result{ErrorMessage: moderation.ProtectedAccountError},
			expected: "ban failed: " + moderation.ProtectedAccountError,
		},
		{
			name:     "plain success",
			action:   "trust",
			result:   moderation.Result{Success: true},
			expected: "trust done.",
		},
		{
			name:     "ban summary",
			action:   "ban",
			result:   moderation.Result{Success: true, ChatsAffected: 3, TrustRemoved: true},
			expected: "ban done (3 chats), trust revoked.",
		},
		{
			name:     "warning escalation",
			action:   "warn",
			result:   moderation.Result{Success: true, WarningCount: 3, AutoBanTriggered: true},
			expected: "warn done, warnings: 3, warning threshold reached: user banned.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, resultText(tc.action, tc.result))
		})
	}
}

func TestBanReason(t *testing.T) {
	t.Parallel()

	t.Run("summarizes the spam-voting checks", func(t *testing.T) {
		t.Parallel()
		outcome := detection.Outcome{
			NetConfidence: 88,
			Checks: []detection.Response{
				{CheckName: "stop_phrase", Result: detection.ResultSpam, Details: "matched phrase"},
				{CheckName: "emoji_flood", Result: detection.ResultClean, Details: "within limit"},
				{CheckName: "openai_spam", Result: detection.ResultSpam, Details: "crypto scam"},
			},
		}

		reason := banReason(outcome)
		assert.Contains(t, reason, "net confidence 88%")
		assert.Contains(t, reason, "stop_phrase: matched phrase")
		assert.Contains(t, reason, "openai_spam: crypto scam")
		assert.NotContains(t, reason, "emoji_flood", "clean checks are not cited")
	})

	t.Run("falls back when no check voted spam", func(t *testing.T) {
		t.Parallel()
		outcome := detection.Outcome{
			NetConfidence: 86,
			Checks: []detection.Response{
				{CheckName: "openai_spam", Result: detection.ResultReview, Details: "maybe promo"},
			},
		}

		assert.Equal(t, "automatic spam detection (net confidence 86%)", banReason(outcome))
	})
}

func TestBestPhoto(t *testing.T) {
	t.Parallel()

	photos := []models.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 800, Height: 600},
		{FileID: "medium", Width: 320, Height: 240},
	}

	assert.Equal(t, "large", bestPhoto(photos).FileID)
}

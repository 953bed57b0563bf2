// Package heuristic implements cheap local detectors: stop-phrase matching
// and emoji flooding. They run before any provider-backed check and supply
// the spam flags the veto-mode checks are gated on.
package heuristic

import (
	"context"
	"fmt"
	"strings"

	"github.com/tg-warden/warden/internal/detection"
)

const (
	StopPhraseCheckName = "stop_phrase"
	EmojiFloodCheckName = "emoji_flood"

	stopPhraseConfidence = 90
	emojiFloodConfidence = 70
)

// StopPhraseCheck flags messages containing a configured stop phrase.
type StopPhraseCheck struct {
	phrases []string
}

// NewStopPhraseCheck builds the check; phrases are matched case-insensitively
// as substrings.
func NewStopPhraseCheck(phrases []string) *StopPhraseCheck {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			lowered = append(lowered, p)
		}
	}
	return &StopPhraseCheck{phrases: lowered}
}

func (c *StopPhraseCheck) Name() string { return StopPhraseCheckName }

func (c *StopPhraseCheck) Veto() bool { return false }

func (c *StopPhraseCheck) ShouldRun(req detection.Request) bool {
	return len(c.phrases) > 0 && strings.TrimSpace(req.Text) != ""
}

func (c *StopPhraseCheck) Evaluate(_ context.Context, req detection.Request) detection.Response {
	text := strings.ToLower(req.Text)
	for _, phrase := range c.phrases {
		if strings.Contains(text, phrase) {
			return detection.Response{
				CheckName:  StopPhraseCheckName,
				Result:     detection.ResultSpam,
				Confidence: stopPhraseConfidence,
				Details:    fmt.Sprintf("message contains stop phrase %q", phrase),
			}
		}
	}
	return detection.Response{
		CheckName:  StopPhraseCheckName,
		Result:     detection.ResultClean,
		Confidence: 0,
		Details:    "no stop phrases found",
	}
}

// EmojiFloodCheck flags messages with an excessive emoji count, a common
// trait of forwarded ad spam.
type EmojiFloodCheck struct {
	maxEmoji int
}

// NewEmojiFloodCheck builds the check; maxEmoji <= 0 disables it.
func NewEmojiFloodCheck(maxEmoji int) *EmojiFloodCheck {
	return &EmojiFloodCheck{maxEmoji: maxEmoji}
}

func (c *EmojiFloodCheck) Name() string { return EmojiFloodCheckName }

func (c *EmojiFloodCheck) Veto() bool { return false }

func (c *EmojiFloodCheck) ShouldRun(req detection.Request) bool {
	return c.maxEmoji > 0 && req.Text != ""
}

func (c *EmojiFloodCheck) Evaluate(_ context.Context, req detection.Request) detection.Response {
	count := countEmoji(req.Text)
	if count > c.maxEmoji {
		return detection.Response{
			CheckName:  EmojiFloodCheckName,
			Result:     detection.ResultSpam,
			Confidence: emojiFloodConfidence,
			Details:    fmt.Sprintf("message contains %d emoji (limit %d)", count, c.maxEmoji),
		}
	}
	return detection.Response{
		CheckName:  EmojiFloodCheckName,
		Result:     detection.ResultClean,
		Confidence: 0,
		Details:    "emoji count within limit",
	}
}

func countEmoji(text string) int {
	count := 0
	for _, r := range text {
		if isEmoji(r) {
			count++
		}
	}
	return count
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols & pictographs
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport & map
		return true
	case r >= 0x1F900 && r <= 0x1FAFF: // supplemental symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols & dingbats
		return true
	default:
		return false
	}
}

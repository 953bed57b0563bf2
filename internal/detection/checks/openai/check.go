// Package openai implements the LLM spam check against an OpenAI-compatible
// chat-completions API. The model is asked for a JSON verdict; a legacy
// free-text marker is accepted as a fallback before the check fails open.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/detection"
)

// CheckName identifies this check in responses, weights, and logs.
const CheckName = "openai_spam"

const (
	// legacySpamMarker is the token older prompts asked the model to emit.
	// It is still honored when the response is not valid JSON.
	legacySpamMarker = "spam_detected"

	// legacyConfidencePercent is deliberately conservative: a verdict
	// recovered from free text is worth less than a structured one.
	legacyConfidencePercent = 60

	defaultPrompt = `You are a spam detector for a group chat. Decide whether the message is spam ` +
		`(unsolicited ads, scams, phishing, crypto shilling, mass-forwarded junk). ` +
		`Respond with a single JSON object: {"result": "spam"|"clean"|"review", "reason": "<short explanation>", "confidence": <0.0-1.0 or null>}. ` +
		`Use "review" when unsure. Do not add any other text.`

	historyLimit = 10
)

// HistoryProvider supplies recent chat messages for prompt context.
type HistoryProvider interface {
	RecentChatMessages(ctx context.Context, chatID int64, limit int) ([]string, error)
}

// Check is the OpenAI-backed spam detector.
type Check struct {
	client  *goopenai.Client
	cfg     config.OpenAIConfig
	cache   *detection.Cache
	history HistoryProvider
	minLen  int
	logger  *slog.Logger
}

// verdict is the JSON object the model is instructed to return.
type verdict struct {
	Result     string   `json:"result"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

// New creates the check. cache may be nil to disable caching; history may be
// nil to disable prompt context.
func New(cfg config.OpenAIConfig, cache *detection.Cache, history HistoryProvider, minLen int, logger *slog.Logger) *Check {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var client *goopenai.Client
	if cfg.Token != "" {
		clientCfg := goopenai.DefaultConfig(cfg.Token)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		client = goopenai.NewClientWithConfig(clientCfg)
	}

	return &Check{
		client:  client,
		cfg:     cfg,
		cache:   cache,
		history: history,
		minLen:  minLen,
		logger:  logger.With("check", CheckName),
	}
}

func (c *Check) Name() string { return CheckName }

func (c *Check) Veto() bool { return c.cfg.VetoMode }

// ShouldRun gates the expensive provider call on message shape: non-empty
// text of at least the configured minimum length.
func (c *Check) ShouldRun(req detection.Request) bool {
	text := strings.TrimSpace(req.Text)
	return text != "" && len(text) >= c.minLen
}

// Evaluate asks the model for a verdict, consulting the cache first. Every
// provider failure fails open to Clean.
func (c *Check) Evaluate(ctx context.Context, req detection.Request) detection.Response {
	if c.client == nil {
		return detection.FailOpen(CheckName, "no API token configured", detection.ErrConfigurationMissing)
	}

	fingerprint := detection.Fingerprint(req.Text, c.cfg.Model, c.cfg.Prompt)
	if c.cache != nil {
		if cached, ok := c.cache.Get(fingerprint); ok {
			cached.Details += " (cached)"
			return cached
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages:    c.buildMessages(ctx, req),
	})
	if err != nil {
		return c.failOpenFromError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return detection.FailOpen(CheckName, "provider returned no choices", detection.ErrMalformedResponse)
	}

	result := c.parseContent(resp.Choices[0].Message.Content)
	if c.cache != nil && result.Err == nil {
		c.cache.Set(fingerprint, result)
	}
	return result
}

func (c *Check) buildMessages(ctx context.Context, req detection.Request) []goopenai.ChatCompletionMessage {
	prompt := c.cfg.Prompt
	if prompt == "" {
		prompt = defaultPrompt
	}

	messages := []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: prompt},
	}

	if c.cfg.HistoryContext && c.history != nil {
		history, err := c.history.RecentChatMessages(ctx, req.ChatID, historyLimit)
		if err != nil {
			c.logger.WarnContext(ctx, "Failed to load history context, proceeding without", "chat_id", req.ChatID, "error", err)
		} else if len(history) > 0 {
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: "Recent messages in this chat for context:\n" + strings.Join(history, "\n"),
			})
		}
	}

	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: fmt.Sprintf("Message from %q:\n%s", req.UserName, req.Text),
	})
	return messages
}

// parseContent extracts a verdict from the model output: strict JSON first,
// then the legacy marker token, then fail open.
func (c *Check) parseContent(content string) detection.Response {
	v, err := parseVerdict(content)
	if err != nil {
		if strings.Contains(strings.ToLower(content), legacySpamMarker) {
			return detection.Response{
				CheckName:  CheckName,
				Result:     detection.ResultSpam,
				Confidence: legacyConfidencePercent,
				Details:    "detected spam via legacy marker",
			}
		}
		return detection.FailOpen(CheckName, "provider response is not valid JSON", fmt.Errorf("%w: %v", detection.ErrMalformedResponse, err))
	}

	confidence := detection.ConfidencePercent(v.Confidence)
	switch strings.ToLower(strings.TrimSpace(v.Result)) {
	case "spam":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultSpam,
			Confidence: confidence,
			Details:    "detected spam: " + v.Reason,
		}
	case "review":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultReview,
			Confidence: confidence,
			Details:    "flagged for review: " + v.Reason,
		}
	case "clean":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultClean,
			Confidence: confidence,
			Details:    "clean: " + v.Reason,
		}
	default:
		return detection.FailOpen(CheckName, fmt.Sprintf("unknown verdict %q", v.Result), detection.ErrMalformedResponse)
	}
}

// parseVerdict tolerates markdown code fences around the JSON object.
func parseVerdict(content string) (*verdict, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	v := &verdict{}
	if err := json.Unmarshal([]byte(trimmed), v); err != nil {
		return nil, err
	}
	if v.Result == "" {
		return nil, errors.New("verdict has no result field")
	}
	return v, nil
}

func (c *Check) failOpenFromError(ctx context.Context, err error) detection.Response {
	var apiErr *goopenai.APIError

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.logger.WarnContext(ctx, "Provider call timed out", "error", err)
		return detection.FailOpen(CheckName, "provider call timed out", fmt.Errorf("%w: %v", detection.ErrProviderTimeout, err))
	case errors.As(err, &apiErr):
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			c.logger.WarnContext(ctx, "Provider rate limited", "error", err)
			return detection.FailOpen(CheckName, "provider rate limited", fmt.Errorf("%w: %v", detection.ErrProviderRateLimited, err))
		case apiErr.HTTPStatusCode >= 500:
			c.logger.WarnContext(ctx, "Provider server error", "status", apiErr.HTTPStatusCode, "error", err)
			return detection.FailOpen(CheckName, "provider server error", fmt.Errorf("%w: %v", detection.ErrProviderServerError, err))
		default:
			c.logger.WarnContext(ctx, "Provider request rejected", "status", apiErr.HTTPStatusCode, "error", err)
			return detection.FailOpen(CheckName, "provider request rejected", fmt.Errorf("%w: %v", detection.ErrProviderServerError, err))
		}
	default:
		c.logger.WarnContext(ctx, "Provider call failed", "error", err)
		return detection.FailOpen(CheckName, "provider call failed", fmt.Errorf("%w: %v", detection.ErrProviderServerError, err))
	}
}

// Package vision implements the photo spam check using Google's Gemini API.
// It only runs for messages carrying a photo.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tg-warden/warden/internal/config"
	"github.com/tg-warden/warden/internal/detection"
)

// CheckName identifies this check in responses, weights, and logs.
const CheckName = "vision_spam"

const visionPrompt = `Classify this chat photo. Is it spam (advertising, QR codes for scams, ` +
	`casino/crypto promos, adult-content bait)? Answer via the response schema only.`

var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"result":     {Type: genai.TypeString, Description: "One of: spam, clean, review."},
		"reason":     {Type: genai.TypeString, Description: "Short explanation of the verdict."},
		"confidence": {Type: genai.TypeNumber, Description: "Confidence from 0.0 to 1.0."},
	},
	Required: []string{"result", "reason"},
}

// FileFetcher downloads a Telegram photo by file id.
type FileFetcher interface {
	FetchFile(ctx context.Context, fileID string) (data []byte, mimeType string, err error)
}

// Check is the Gemini-backed photo detector.
type Check struct {
	client     *genai.Client
	files      FileFetcher
	model      string
	maxRetries int
	retryDelay time.Duration
	cfg        *genai.GenerateContentConfig
	logger     *slog.Logger
}

// New creates the check. A nil genai client (no API key configured) is
// allowed; Evaluate then fails open.
func New(ctx context.Context, cfg config.GeminiConfig, files FileFetcher, logger *slog.Logger) (*Check, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("check", CheckName)

	var client *genai.Client
	if cfg.APIKey != "" {
		var err error
		client, err = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
	}

	temperature := cfg.Temperature
	contentCfg := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   verdictSchema,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: visionPrompt}},
		},
	}

	return &Check{
		client:     client,
		files:      files,
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: 2 * time.Second,
		cfg:        contentCfg,
		logger:     log,
	}, nil
}

func (c *Check) Name() string { return CheckName }

func (c *Check) Veto() bool { return false }

func (c *Check) ShouldRun(req detection.Request) bool {
	return req.PhotoFileID != ""
}

func (c *Check) Evaluate(ctx context.Context, req detection.Request) detection.Response {
	if c.client == nil {
		return detection.FailOpen(CheckName, "no Gemini API key configured", detection.ErrConfigurationMissing)
	}
	if c.files == nil {
		return detection.FailOpen(CheckName, "no file fetcher configured", detection.ErrConfigurationMissing)
	}

	data, mimeType, err := c.files.FetchFile(ctx, req.PhotoFileID)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to fetch photo", "file_id", req.PhotoFileID, "error", err)
		return detection.FailOpen(CheckName, "failed to fetch photo", fmt.Errorf("%w: %v", detection.ErrProviderServerError, err))
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	resp, err := c.generateWithRetries(ctx, contents)
	if err != nil {
		return c.failOpenFromError(ctx, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return detection.FailOpen(CheckName, "provider returned empty response", detection.ErrMalformedResponse)
	}

	var v struct {
		Result     string   `json:"result"`
		Reason     string   `json:"reason"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return detection.FailOpen(CheckName, "provider response is not valid JSON", fmt.Errorf("%w: %v", detection.ErrMalformedResponse, err))
	}

	confidence := detection.ConfidencePercent(v.Confidence)
	switch strings.ToLower(strings.TrimSpace(v.Result)) {
	case "spam":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultSpam,
			Confidence: confidence,
			Details:    "detected photo spam: " + v.Reason,
		}
	case "review":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultReview,
			Confidence: confidence,
			Details:    "photo flagged for review: " + v.Reason,
		}
	case "clean":
		return detection.Response{
			CheckName:  CheckName,
			Result:     detection.ResultClean,
			Confidence: confidence,
			Details:    "photo clean: " + v.Reason,
		}
	default:
		return detection.FailOpen(CheckName, fmt.Sprintf("unknown verdict %q", v.Result), detection.ErrMalformedResponse)
	}
}

// generateWithRetries retries transient Gemini failures (HTTP 500/503) up to
// maxRetries times, the same policy the rest of the codebase uses for
// provider calls.
func (c *Check) generateWithRetries(ctx context.Context, contents []*genai.Content) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.client.Models.GenerateContent(ctx, c.model, contents, c.cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) && i < c.maxRetries {
			c.logger.WarnContext(ctx, "Gemini call failed, retrying", "attempt", i+1, "code", apiErr.Code, "error", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return nil, err
	}
	return nil, err
}

func (c *Check) failOpenFromError(ctx context.Context, err error) detection.Response {
	var apiErr *genai.APIError

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		c.logger.WarnContext(ctx, "Gemini call timed out", "error", err)
		return detection.FailOpen(CheckName, "provider call timed out", fmt.Errorf("%w: %v", detection.ErrProviderTimeout, err))
	case errors.As(err, &apiErr) && apiErr.Code == 429:
		c.logger.WarnContext(ctx, "Gemini rate limited", "error", err)
		return detection.FailOpen(CheckName, "provider rate limited", fmt.Errorf("%w: %v", detection.ErrProviderRateLimited, err))
	default:
		c.logger.WarnContext(ctx, "Gemini call failed", "error", err)
		return detection.FailOpen(CheckName, "provider call failed", fmt.Errorf("%w: %v", detection.ErrProviderServerError, err))
	}
}
